// Package domain holds the core types shared across the pipeline: streams,
// destinations, decoded entries, the entry payload codec, and the error
// taxonomy. It has no dependencies on other walpipe packages.
package domain

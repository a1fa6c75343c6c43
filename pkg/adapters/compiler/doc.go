// Package compiler builds service definitions from service directories.
//
// A service directory holds a mesg.yml manifest next to the service code.
// Compile parses the manifest, packs the directory as a reproducible tar.gz
// and stores it, recording the content hash as the definition source.
package compiler

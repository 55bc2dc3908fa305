// Package archive serializes a directory into a tar file. Archiving is
// asynchronous: an Archiver returns a channel that receives exactly one value
// (nil on success) and is then closed. Two implementations are provided:
//
//	CommandArchiver - runs the system 'tar' binary, like 'tar -c -f <tarfile> -C <dir> .'
//	TarArchiver     - writes the tar in-process over an afero filesystem
//
// If the archiving is cancelled through its context then the error on the
// channel wraps ErrDiscarded.
package archive

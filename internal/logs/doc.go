// Package logs reads the daemon log file for `tryon logs`.
//
// Last returns the final lines of a file with bounded memory, ReadFrom picks
// up after a byte offset, and Follow polls for appended lines until its
// context ends. A file that shrinks below the saved offset, as happens when
// the daemon archives tryon.log on startup, is read again from the top.
package logs

// Package main builds liblkbridge, a C shared library exposing the room
// bridge. Build with:
//
//	go build -buildmode=c-shared -o liblkbridge.so ./lkbridge
//
// The hand-written liblkbridge.h is the public contract; the generated
// header is an implementation artifact.
package main

func main() {}

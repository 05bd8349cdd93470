// Package source provides the tree enumerators an import job reads from.
//
// A Source visits every node of a finite tree in pre-order, handing each node
// to a WalkFunc together with its parent container. Three sources are
// provided:
//
//   - FileSystemSource walks a local directory
//   - CSVSource reads a CSV feed with one document per line
//   - MemorySource walks a tree built in code, mainly for tests and load generation
package source

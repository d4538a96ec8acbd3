package dtb

// Cursor is a trivially copyable position within a DTB's struct block: a
// plain byte offset. Cursors are only ever produced by Reader methods,
// which never let one advance past the end of the blob.
type Cursor struct {
	off uint32
}

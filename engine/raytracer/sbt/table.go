package sbt

import "fmt"

// Pack validates and copies the opaque shader-group handles returned by the
// driver into the flat byte layout of the shader binding table: one
// handle-size record per group, in group creation order. The byte offset of
// group i in the result is exactly i × handleSize.
//
// Parameters:
//   - handles: the concatenated handles as returned by the driver query
//   - groupCount: the number of shader groups in the pipeline
//   - handleSize: the device-reported shader group handle size in bytes
//
// Returns:
//   - []byte: the packed table, groupCount × handleSize bytes
//   - error: an error if the handle data does not match the expected size
func Pack(handles []byte, groupCount int, handleSize uint32) ([]byte, error) {
	if groupCount <= 0 {
		return nil, fmt.Errorf("sbt: cannot pack a table with %d groups", groupCount)
	}
	if handleSize == 0 {
		return nil, fmt.Errorf("sbt: device reported zero shader group handle size")
	}
	want := groupCount * int(handleSize)
	if len(handles) != want {
		return nil, fmt.Errorf("sbt: handle data is %d bytes, want %d (%d groups × %d)",
			len(handles), want, groupCount, handleSize)
	}
	table := make([]byte, want)
	copy(table, handles)
	return table, nil
}

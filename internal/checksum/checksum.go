// Package checksum computes content hashes compatible with the remote store.
package checksum

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"encoding/hex"
	"strconv"
)

// GitBlob returns the hex-encoded git blob object id of data, the same value
// GitHub reports as a file's "sha".
func GitBlob(data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

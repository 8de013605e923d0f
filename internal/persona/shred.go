package persona

import (
	"os"

	"github.com/quantarax/keystore/internal/kerr"
)

// shredBlockSize is the write granularity used while overwriting a
// private key file with zeros.
const shredBlockSize = 512

// shredFile overwrites file's current contents with zero blocks,
// syncing after each block, then unlinks it. Fails NotFound if the
// file does not already exist.
func shredFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return kerr.New(kerr.NotFound, "shredFile", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return kerr.New(kerr.IoError, "shredFile", err)
	}

	var zero [shredBlockSize]byte
	size := info.Size()
	var werr error
	for off := int64(0); off < size; off += shredBlockSize {
		n := int64(shredBlockSize)
		if off+n > size {
			n = size - off
		}
		if _, werr = f.Write(zero[:n]); werr != nil {
			break
		}
		if werr = f.Sync(); werr != nil {
			break
		}
	}
	f.Close()
	if werr != nil {
		return kerr.New(kerr.IoError, "shredFile", werr)
	}

	if err := os.Remove(path); err != nil {
		return kerr.New(kerr.IoError, "shredFile", err)
	}
	return nil
}

package core

import (
	"fmt"

	"github.com/giantswarm/fnhost/internal/fileutil"
)

// cracConfig tells the JVM checkpoint engine to leave open files alone and
// close sockets before a checkpoint.
const cracConfig = `type: FILE
action: ignore
---
type: SOCKET
action: close`

// writeCracConfig writes the checkpoint resource policy file to path.
func writeCracConfig(path string) error {
	if err := fileutil.EnsureDirForFile(path); err != nil {
		return fmt.Errorf("%w: %w", ErrCreateConfigFailed, err)
	}
	if err := fileutil.WriteFileAtomic(path, []byte(cracConfig), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrCreateConfigFailed, err)
	}
	return nil
}

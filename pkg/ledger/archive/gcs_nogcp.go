//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSArchiver(context.Context, Config) (Archiver, error) {
	return nil, fmt.Errorf("GCS archives are not enabled in this build (use -tags gcp)")
}

// Package loader registers the persistence drivers via blank imports.
package loader

import (
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/postgres"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/sqlite"
)

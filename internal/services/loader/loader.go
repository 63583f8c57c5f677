// Package loader triggers service and interceptor registration via blank
// imports. Import it from main so every core service is available.
package loader

import (
	// Interceptors used by service configs.
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/interceptors/ratelimit"

	// Core services.
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/api"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/ocm"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/registry"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/wellknown"
)

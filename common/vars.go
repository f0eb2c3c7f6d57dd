package common

// PackageName is used as the metrics namespace and default service tag.
const PackageName = "lock_pairing_backend"

// Version is set at build time via -ldflags.
var Version = "dev"

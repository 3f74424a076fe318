package domain

// Version is overridden at build time with -ldflags "-X facecraft/internal/domain.Version=...".
var Version = "dev"

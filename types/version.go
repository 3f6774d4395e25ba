package types

// Version is the canonical project version.
// The CLI and the completion event contract share this version.
const Version = "0.4.2"

// ContractVersion is the version stamped on completion events.
const ContractVersion = Version

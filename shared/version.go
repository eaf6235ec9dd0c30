package shared

// Version of the callkit module.
const Version = "0.1.0"

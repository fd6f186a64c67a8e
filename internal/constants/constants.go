package constants

const (
	AppName = "quantumwallet"

	AccountsFile    = "accounts.json"
	SecretsDir      = "secrets"
	NetworksFile    = "networks.json"
	PermissionsFile = "permissions.json"
	PairingFile     = "extension_pairing.token"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// AAD prefix for per-account secret files; the account id is appended.
	SecretAADPrefix = "quantumwallet:vault:secret:v1:"
)

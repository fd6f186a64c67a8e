package networks

import "github.com/quantumauth-io/quantum-wallet-core/internal/constants"

type Kind string

const (
	KindFlow Kind = "flow"
	KindEVM  Kind = "evm"
)

type Network struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	ChainIdHex string `json:"chainIdHex,omitempty"`
	Explorer   string `json:"explorer,omitempty"`
	RpcUrl     string `json:"rpcUrl,omitempty"`
}

type Store struct {
	Schema   int                `json:"schema"`
	Active   string             `json:"active"`
	Networks map[string]Network `json:"networks"` // key = normalized name
}

func NewEmptyStore() Store {
	return Store{
		Schema:   constants.SchemaV1,
		Networks: map[string]Network{},
	}
}

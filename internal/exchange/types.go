package exchange

// Blueprint makes the exchange resolve token metadata from the contract.
const Blueprint = "onchain-metadata"

// Token is one token minted to a recipient.
type Token struct {
	ID        string `json:"id"`
	Blueprint string `json:"blueprint"`
}

// RecipientGroup is the set of tokens minted to one wallet.
type RecipientGroup struct {
	EtherKey string  `json:"etherKey"`
	Tokens   []Token `json:"tokens"`
}

// MintRequest targets one mintable contract.
type MintRequest struct {
	ContractAddress string           `json:"contractAddress"`
	Users           []RecipientGroup `json:"users"`
}

type RegisterRequest struct {
	EtherKey       string
	StarkPublicKey string
}

// RegisterResponse carries the on-chain registration transaction, empty when the key was already registered.
type RegisterResponse struct {
	TxHash string `json:"tx_hash"`
}

type MintResult struct {
	ContractAddress string `json:"contract_address"`
	TokenID         string `json:"token_id"`
	TxID            int64  `json:"tx_id"`
}

type MintResponse struct {
	Results []MintResult `json:"results"`
}

// Wire shapes of the exchange REST API.

type signableRegistrationRequest struct {
	EtherKey string `json:"ether_key"`
	StarkKey string `json:"stark_key"`
}

type SignableRegistrationResponse struct {
	SignableMessage string `json:"signable_message"`
	PayloadHash     string `json:"payload_hash"`
}

type RegisterUserRequest struct {
	EtherKey       string `json:"ether_key"`
	StarkKey       string `json:"stark_key"`
	StarkSignature string `json:"stark_signature"`
	EthSignature   string `json:"eth_signature"`
}

type WireToken struct {
	ID        string `json:"id"`
	Blueprint string `json:"blueprint"`
}

type WireUser struct {
	User   string      `json:"user"`
	Tokens []WireToken `json:"tokens"`
}

// SignableMint is the part of a mint request covered by auth_signature.
type SignableMint struct {
	ContractAddress string     `json:"contract_address"`
	Users           []WireUser `json:"users"`
}

type WireMint struct {
	SignableMint
	AuthSignature string `json:"auth_signature"`
}

func toSignable(req MintRequest) SignableMint {
	users := make([]WireUser, 0, len(req.Users))
	for _, g := range req.Users {
		tokens := make([]WireToken, 0, len(g.Tokens))
		for _, t := range g.Tokens {
			tokens = append(tokens, WireToken{ID: t.ID, Blueprint: t.Blueprint})
		}
		users = append(users, WireUser{User: g.EtherKey, Tokens: tokens})
	}
	return SignableMint{ContractAddress: req.ContractAddress, Users: users}
}

package exchange

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"imxmint/internal/chain"
	"imxmint/internal/ethauth"
	"imxmint/internal/stark"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ErrAPI wraps every non-2xx response from the exchange.
var ErrAPI = errors.New("exchange api error")

const defaultHTTPTimeout = 30 * time.Second

// Client is an authenticated exchange session for one wallet.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	key     *ecdsa.PrivateKey
	address common.Address
	stark   *stark.PrivateKey
}

type Config struct {
	BaseURL       string
	APIKey        string
	PrivateKeyHex string
	// HTTPClient is optional; its transport is wrapped with request signing.
	HTTPClient *http.Client
}

// Build derives the wallet address and session key and prepares the signed HTTP client.
func Build(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("exchange api url is required")
	}
	key, err := chain.ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	seed, err := ethauth.SignRaw(key, []byte(stark.SignableMessage))
	if err != nil {
		return nil, errors.Wrap(err, "sign session seed")
	}
	starkKey, err := stark.KeyFromEthSignature(seed, address)
	if err != nil {
		return nil, errors.Wrap(err, "derive stark key")
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	httpClient.Transport = &ethauth.Transport{Base: httpClient.Transport, Key: key}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		key:     key,
		address: address,
		stark:   starkKey,
	}, nil
}

// Address is the checksummed wallet address.
func (c *Client) Address() string {
	return c.address.Hex()
}

func (c *Client) StarkPublicKey() string {
	return c.stark.PublicKeyHex()
}

// RegisterSigner links the wallet to its session key. An empty TxHash means no on-chain step is pending.
func (c *Client) RegisterSigner(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var signable SignableRegistrationResponse
	if err := c.post(ctx, "/v1/signable-registration", signableRegistrationRequest{
		EtherKey: req.EtherKey,
		StarkKey: req.StarkPublicKey,
	}, &signable); err != nil {
		return RegisterResponse{}, errors.Wrap(err, "signable registration")
	}

	ethSig, err := ethauth.SignRaw(c.key, []byte(signable.SignableMessage))
	if err != nil {
		return RegisterResponse{}, err
	}
	msgHash, err := stark.ParseMessageHash(signable.PayloadHash)
	if err != nil {
		return RegisterResponse{}, errors.Wrap(err, "registration payload hash")
	}
	starkSig, err := c.stark.Sign(msgHash)
	if err != nil {
		return RegisterResponse{}, errors.Wrap(err, "stark sign")
	}

	var resp RegisterResponse
	if err := c.post(ctx, "/v1/users", RegisterUserRequest{
		EtherKey:       req.EtherKey,
		StarkKey:       req.StarkPublicKey,
		StarkSignature: starkSig.Hex(),
		EthSignature:   hexutil.Encode(ethSig),
	}, &resp); err != nil {
		return RegisterResponse{}, errors.Wrap(err, "register user")
	}
	return resp, nil
}

// MintV2 submits an off-chain mint. Each request element is signed by the wallet.
func (c *Client) MintV2(ctx context.Context, reqs []MintRequest) (MintResponse, error) {
	body := make([]WireMint, 0, len(reqs))
	for _, req := range reqs {
		signable := toSignable(req)
		sig, err := SignMint(c.key, signable)
		if err != nil {
			return MintResponse{}, err
		}
		body = append(body, WireMint{SignableMint: signable, AuthSignature: sig})
	}

	var resp MintResponse
	if err := c.post(ctx, "/v2/mints", body, &resp); err != nil {
		return MintResponse{}, errors.Wrap(err, "mint")
	}
	return resp, nil
}

// MintDigest is the keccak256 of the JSON-encoded signable mint.
func MintDigest(m SignableMint) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode mint")
	}
	return crypto.Keccak256(raw), nil
}

// MintAuthMessage is the text the wallet signs for m: the 0x-prefixed hex of MintDigest.
func MintAuthMessage(m SignableMint) ([]byte, error) {
	digest, err := MintDigest(m)
	if err != nil {
		return nil, err
	}
	return []byte(hexutil.Encode(digest)), nil
}

// SignMint returns the hex auth_signature for m.
func SignMint(key *ecdsa.PrivateKey, m SignableMint) (string, error) {
	msg, err := MintAuthMessage(m)
	if err != nil {
		return "", err
	}
	sig, err := ethauth.SignRaw(key, msg)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(ErrAPI, "%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

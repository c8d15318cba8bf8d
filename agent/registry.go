package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/config"
	"github.com/acp-sdk/acp-core/crypto/keys"
	"github.com/acp-sdk/acp-core/health"
	"github.com/acp-sdk/acp-core/internal/logger"
	achttp "github.com/acp-sdk/acp-core/transport/http"
)

// Config, ProxyConfig, TLSConfig and the ProxyKind enum live in
// package config; aliased here so callers can keep writing
// agent.Config{...} against AgentCP.Initialize.
type (
	Config      = config.Config
	ProxyConfig = config.ProxyConfig
	TLSConfig   = config.TLSConfig
	ProxyKind   = config.ProxyKind
)

const (
	ProxyNone   = config.ProxyNone
	ProxyHTTP   = config.ProxyHTTP
	ProxySOCKS5 = config.ProxySOCKS5
	ProxySystem = config.ProxySystem
)

// LoadConfigFromFile reads a YAML/JSON AgentCP config file via
// package config, resolving ${VAR} references against the process
// environment.
func LoadConfigFromFile(path string) (Config, error) {
	return config.Load(path)
}

// AgentCP is the process-wide façade: one registry, lazily
// initialized, mapping AID -> AgentID (spec.md §4.14).
type AgentCP struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	http        *achttp.Client
	log         logger.Logger
	agents      map[string]*AgentID
	health      *health.Checker
}

// Health returns the façade's health checker, creating it on the first
// call and registering one check per live AgentID ("agent:<aid>") on
// every call.
// A check reports Unhealthy when its AgentID's state is Error,
// Degraded when Reconnecting or Offline, Healthy otherwise.
func (cp *AgentCP) Health() *health.Checker {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.health == nil {
		cp.health = health.NewChecker(0)
	}
	for aid, a := range cp.agents {
		name, agentID := "agent:"+aid, a
		cp.health.Register(name, func(ctx context.Context) (health.Status, string) {
			switch agentID.State() {
			case Error:
				return health.StatusUnhealthy, "agentid is in Error state"
			case Reconnecting, Offline:
				return health.StatusDegraded, "agentid is " + agentID.State().String()
			default:
				return health.StatusHealthy, ""
			}
		})
	}
	return cp.health
}

var (
	instance     *AgentCP
	instanceOnce sync.Once
)

// GetAgentCP returns the process-wide singleton, constructing it on
// first use. Initialize must still be called before create_aid/
// load_aid will succeed.
func GetAgentCP() *AgentCP {
	instanceOnce.Do(func() {
		instance = &AgentCP{agents: make(map[string]*AgentID)}
	})
	return instance
}

// Initialize transitions the façade from uninitialized to initialized
// with cfg. Calling it again replaces the configuration but leaves
// any already-online AgentID handles untouched.
func (cp *AgentCP) Initialize(cfg Config) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	log := logger.NewDefaultLogger()
	log.SetLevel(cfg.LogLevel)

	httpOpts := []achttp.Option{}
	if tlsCfg := buildTLSConfig(cfg.TLS); tlsCfg != nil {
		httpOpts = append(httpOpts, achttp.WithTLSConfig(tlsCfg))
	}

	cp.cfg = cfg
	cp.log = log
	cp.http = achttp.New(httpOpts...)
	cp.initialized = true
	return nil
}

func buildTLSConfig(cfg TLSConfig) *tls.Config {
	if cfg.Verify && cfg.CACertPath == "" && cfg.ClientCertPath == "" {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: !cfg.Verify}
}

// Shutdown invalidates every managed AgentID (offlining any that are
// online) and returns the façade to uninitialized.
func (cp *AgentCP) Shutdown() {
	cp.mu.Lock()
	agents := cp.agents
	cp.agents = make(map[string]*AgentID)
	cp.initialized = false
	cp.mu.Unlock()

	for _, a := range agents {
		a.invalidate()
	}
}

// SetBaseURLs updates the CA and AP base URLs used by subsequent
// create_aid/load_aid/online calls.
func (cp *AgentCP) SetBaseURLs(ca, ap string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.CABase, cp.cfg.APBase = ca, ap
}

// SetStoragePath updates the on-disk root for <aid>/<aid>.key + .crt.
func (cp *AgentCP) SetStoragePath(path string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.StoragePath = path
}

// SetLogLevel updates the façade's logger level.
func (cp *AgentCP) SetLogLevel(level logger.Level) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.LogLevel = level
	if cp.log != nil {
		cp.log.SetLevel(level)
	}
}

// SetProxy updates the outbound proxy configuration.
func (cp *AgentCP) SetProxy(proxy ProxyConfig) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.Proxy = proxy
}

// SetTLS updates the TLS configuration and rebuilds the HTTP client.
func (cp *AgentCP) SetTLS(tlsCfg TLSConfig) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cfg.TLS = tlsCfg
	opts := []achttp.Option{}
	if c := buildTLSConfig(tlsCfg); c != nil {
		opts = append(opts, achttp.WithTLSConfig(c))
	}
	cp.http = achttp.New(opts...)
}

func (cp *AgentCP) aidDir(aid string) string {
	return filepath.Join(cp.cfg.StoragePath, aid)
}

func (cp *AgentCP) keyPath(aid string) string { return filepath.Join(cp.aidDir(aid), aid+".key") }
func (cp *AgentCP) certPath(aid string) string { return filepath.Join(cp.aidDir(aid), aid+".crt") }

// CreateAID generates an ECDSA P-384 keypair, issues a CSR against
// ca_base, persists the password-encrypted key and cert, and returns
// a ready-to-online AgentID. Fails with AID_ALREADY_EXISTS if aid
// already has material on disk or in memory.
func (cp *AgentCP) CreateAID(ctx context.Context, aid, password string) (*AgentID, error) {
	cp.mu.Lock()
	if !cp.initialized {
		cp.mu.Unlock()
		return nil, acperr.New(acperr.NotInitialized, "agent: AgentCP.Initialize must be called first")
	}
	if _, exists := cp.agents[aid]; exists {
		cp.mu.Unlock()
		return nil, acperr.New(acperr.AIDAlreadyExists, fmt.Sprintf("agent: %q already loaded", aid))
	}
	httpClient, caBase, apBase, storagePath, log := cp.http, cp.cfg.CABase, cp.cfg.APBase, cp.cfg.StoragePath, cp.log
	cp.mu.Unlock()

	if _, err := os.Stat(cp.keyPath(aid)); err == nil {
		return nil, acperr.New(acperr.AIDAlreadyExists, fmt.Sprintf("agent: %q already has material on disk", aid))
	}

	kp, err := keys.GenerateP384KeyPair()
	if err != nil {
		return nil, acperr.Wrap(acperr.Unknown, "agent: generate keypair", err)
	}
	keyPEM, err := keys.GenerateKeyPEM(kp)
	if err != nil {
		return nil, acperr.Wrap(acperr.Unknown, "agent: encode private key", err)
	}
	csrDER, err := keys.GenerateCSR(aid, keyPEM)
	if err != nil {
		return nil, acperr.Wrap(acperr.Unknown, "agent: generate CSR", err)
	}

	certPEM, err := issueCert(ctx, httpClient, caBase, aid, csrDER)
	if err != nil {
		return nil, err
	}

	encryptedKey, err := keys.EncryptPrivateKey(kp, password)
	if err != nil {
		return nil, acperr.Wrap(acperr.Unknown, "agent: encrypt private key", err)
	}

	if err := os.MkdirAll(cp.aidDir(aid), 0o700); err != nil {
		return nil, acperr.Wrap(acperr.DBOpenFailed, "agent: create storage dir", err)
	}
	if err := os.WriteFile(cp.keyPath(aid), encryptedKey, 0o600); err != nil {
		return nil, acperr.Wrap(acperr.DBQueryFailed, "agent: persist key", err)
	}
	if err := os.WriteFile(cp.certPath(aid), []byte(certPEM), 0o600); err != nil {
		return nil, acperr.Wrap(acperr.DBQueryFailed, "agent: persist cert", err)
	}

	agentID := newAgentID(identity{AID: aid, PrivateKey: keyPEM, CertPEM: certPEM}, caBase, apBase, log)
	cp.mu.Lock()
	cp.agents[aid] = agentID
	cp.mu.Unlock()
	return agentID, nil
}

func issueCert(ctx context.Context, httpClient *achttp.Client, caBase, aid string, csrDER []byte) (string, error) {
	resp, err := httpClient.PostJSON(ctx, caBase+"/issue_cert", map[string]any{
		"agent_id": aid,
		"csr":      csrDER,
	})
	if err != nil {
		return "", acperr.Wrap(acperr.NetworkError, "agent: issue_cert request failed", err)
	}
	var body struct {
		CertPEM string `json:"cert_pem"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.CertPEM == "" {
		return "", acperr.Wrap(acperr.CertError, "agent: malformed issue_cert response", err)
	}
	return body.CertPEM, nil
}

// LoadAID reads aid's on-disk key and cert, decrypting the key with
// password, and constructs an AgentID. A wrong password surfaces as
// CERT_ERROR. If aid is already loaded, the password is still checked
// against the on-disk key and the existing handle is returned.
func (cp *AgentCP) LoadAID(aid, password string) (*AgentID, error) {
	cp.mu.Lock()
	if !cp.initialized {
		cp.mu.Unlock()
		return nil, acperr.New(acperr.NotInitialized, "agent: AgentCP.Initialize must be called first")
	}
	caBase, apBase, log := cp.cfg.CABase, cp.cfg.APBase, cp.log
	cp.mu.Unlock()

	encryptedKey, err := os.ReadFile(cp.keyPath(aid))
	if err != nil {
		return nil, acperr.Wrap(acperr.AIDNotFound, fmt.Sprintf("agent: %q has no material on disk", aid), err)
	}
	certPEM, err := os.ReadFile(cp.certPath(aid))
	if err != nil {
		return nil, acperr.Wrap(acperr.AIDNotFound, fmt.Sprintf("agent: %q has no cert on disk", aid), err)
	}

	keyPEM, err := keys.DecryptPrivateKey(encryptedKey, password)
	if err != nil {
		return nil, acperr.Wrap(acperr.CertError, "agent: decrypt private key failed (wrong password?)", err)
	}

	agentID := newAgentID(identity{AID: aid, PrivateKey: keyPEM, CertPEM: string(certPEM)}, caBase, apBase, log)
	cp.mu.Lock()
	if existing, ok := cp.agents[aid]; ok {
		cp.mu.Unlock()
		return existing, nil
	}
	cp.agents[aid] = agentID
	cp.mu.Unlock()
	return agentID, nil
}

// DeleteAID invalidates any in-memory AgentID for aid (offlining it if
// online), then removes its on-disk material.
func (cp *AgentCP) DeleteAID(aid string) error {
	cp.mu.Lock()
	existing, ok := cp.agents[aid]
	delete(cp.agents, aid)
	checker := cp.health
	cp.mu.Unlock()

	if checker != nil {
		checker.Unregister("agent:" + aid)
	}
	if ok {
		existing.invalidate()
	}

	if err := os.RemoveAll(cp.aidDir(aid)); err != nil && !os.IsNotExist(err) {
		return acperr.Wrap(acperr.DBQueryFailed, "agent: remove storage dir", err)
	}
	return nil
}

// ListAIDs returns every AID with material under storage_path.
func (cp *AgentCP) ListAIDs() ([]string, error) {
	cp.mu.Lock()
	storagePath := cp.cfg.StoragePath
	cp.mu.Unlock()

	entries, err := os.ReadDir(storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, acperr.Wrap(acperr.DBQueryFailed, "agent: list storage dir", err)
	}

	var aids []string
	for _, e := range entries {
		if e.IsDir() {
			aids = append(aids, e.Name())
		}
	}
	return aids, nil
}

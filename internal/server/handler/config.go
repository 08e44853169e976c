package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/insightra/internal/service"
)

// PublicConfig is what a wallet frontend needs to connect: network, explorer
// and WalletConnect settings. It never carries secrets.
type PublicConfig struct {
	Mode                   string   `json:"mode"`
	ChainID                int64    `json:"chain_id"`
	ChainName              string   `json:"chain_name"`
	RPCURL                 string   `json:"rpc_url,omitempty"`
	ExplorerURL            string   `json:"explorer_url,omitempty"`
	WalletConnectProjectID string   `json:"walletconnect_project_id,omitempty"`
	DefaultCollateral      string   `json:"default_collateral,omitempty"`
	RequireSignature       bool     `json:"require_signature"`
	Admins                 []string `json:"admins,omitempty"`
}

// OracleReader reads the oracle configuration.
type OracleReader interface {
	Oracle(ctx context.Context) (service.OracleInfo, error)
}

// ConfigHandler serves the public client configuration.
type ConfigHandler struct {
	public PublicConfig
	oracle OracleReader
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler. oracle may be nil.
func NewConfigHandler(public PublicConfig, oracle OracleReader, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{public: public, oracle: oracle, logger: logHandler(logger, "config")}
}

// GetConfig returns the public configuration and the live oracle settings.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		PublicConfig
		Oracle *service.OracleInfo `json:"oracle,omitempty"`
	}{PublicConfig: h.public}

	if h.oracle != nil {
		info, err := h.oracle.Oracle(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: oracle info unavailable", slog.String("error", err.Error()))
		} else {
			resp.Oracle = &info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

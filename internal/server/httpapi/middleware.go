package httpapi

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/server/auth"
)

// requireOperator verifies the bearer token and that its subject is still a
// configured operator. Tokens of operators removed from the config stop
// working without waiting for expiry.
func (h *handler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		telegramID, err := auth.GetTelegramIDFromToken(token, []byte(h.config.SecretKey))
		if err != nil {
			h.writeError(w, r, common.ErrorUnauthorized)
			return
		}
		if !h.config.IsAdmin(telegramID) {
			h.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

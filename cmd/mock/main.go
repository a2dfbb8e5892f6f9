package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const landingPage = `<!doctype html>
<html>
<head><title>mock dapp</title></head>
<body>
  <header id="app-header">mock dapp</header>
  <button id="connect-wallet">Connect wallet</button>
  <div class="dashboard" style="display:none">dashboard</div>
</body>
</html>`

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	// Exit IP echo for the proxy checker.
	mux.HandleFunc("/mock/ip", func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ip": host})
	})

	mux.HandleFunc("/mock/blocked", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	mux.HandleFunc("/mock/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(landingPage))
	})

	mux.HandleFunc("/mock/rpc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = hexutil.EncodeUint64(1)
		case "eth_getBalance":
			var address string
			if len(req.Params) > 0 {
				_ = json.Unmarshal(req.Params[0], &address)
			}
			if !common.IsHexAddress(address) {
				resp["error"] = map[string]any{"code": -32602, "message": "invalid address"}
				break
			}
			resp["result"] = hexutil.EncodeBig(mockBalance(common.HexToAddress(address)))
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

// mockBalance derives a stable balance from the last two address bytes, in
// milliether steps.
func mockBalance(a common.Address) *big.Int {
	units := int64(a[18])<<8 | int64(a[19])
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1e15))
}

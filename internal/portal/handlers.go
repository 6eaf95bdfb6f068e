package portal

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/logging"
	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
)

// Page titles.
const (
	titleHome    = "Home | Pluvi.On"
	titleWiFi    = "Configurar WiFi | Pluvi.On"
	titleSaved   = "Credenciais Salvas | Pluvi.On"
	titleOptions = "Configurações Salvas | Pluvi.On"
	titleInfo    = "Info | Pluvi.On"
	titleReset   = "Reiniciar | Pluvi.On"
)

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot)
	r.HandleFunc("/fwlink", s.handleRoot)
	r.HandleFunc("/wifi", s.handleWiFi(true))
	r.HandleFunc("/0wifi", s.handleWiFi(false))
	r.HandleFunc("/wifisave", s.handleWiFiSave)
	r.HandleFunc("/savePluviOnConfig", s.handleSaveConfig)
	r.HandleFunc("/savePluvionConfig", s.handleSaveConfig)
	r.HandleFunc("/i", s.handleInfo)
	r.HandleFunc("/i.json", s.handleInfoJSON).Methods(http.MethodGet)
	r.HandleFunc("/r", s.handleReset)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)

	// mux middleware does not run for unmatched routes, so the redirect
	// wraps the whole router.
	return s.captive(r)
}

// IsIPHost reports whether a Host header value (port already removed)
// looks like a dotted-decimal address. Only digits and dots count; an
// empty host is treated as an address.
func IsIPHost(host string) bool {
	for _, c := range host {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// captive redirects any request addressed to a name rather than an IP to
// the portal. Operating systems probe well-known hosts and open a browser
// on exactly this response.
func (s *Server) captive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, r.Host)
		if IsIPHost(stripPort(r.Host)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Location", "http://"+s.apIP.String())
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusFound)
		logging.LogHTTPResponse(r.RemoteAddr, http.StatusFound, 0)
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name, title string, body any) {
	html, err := renderPage(name, page{
		Title:      title,
		CustomHead: template.HTML(s.opts.CustomHead),
		Identity:   s.identity,
		Body:       body,
	})
	if err != nil {
		logging.Error("Failed to render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(html)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(html); err != nil {
		logging.Debug("Failed to write page", zap.Error(err))
	}
	logging.LogHTTPResponse(r.RemoteAddr, http.StatusOK, len(html))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", titleHome, homeBody{
		Name:         s.repo.StationName(),
		BucketVolume: s.repo.BucketVolume(),
		ResetTime:    resetTimeJS(s.opts.ResetTime),
	})
}

func (s *Server) handleWiFi(scan bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := wifiBody{Params: paramItems(s.opts.Params)}
		if scan {
			body.Scanned = true
			networks, err := s.scanner.Scan(r.Context())
			if err == nil {
				prepared := PrepareNetworks(networks, s.opts.RemoveDuplicates)
				body.Found = len(prepared)
				for _, n := range prepared {
					q := SignalQuality(n.RSSI)
					if !Visible(q, s.opts.MinQuality) {
						logging.Debug("Network below minimum quality", zap.String("ssid", n.SSID), zap.Int("quality", q))
						continue
					}
					body.Networks = append(body.Networks, networkItem{SSID: n.SSID, Quality: q, Encrypted: n.Encrypted})
				}
			}
		}
		if st := s.stationStatic(); st.IsSet() {
			body.Static = &staticItem{
				IP:      st.IP.String(),
				Gateway: ipString(st.Gateway),
				Subnet:  ipString(st.Subnet),
			}
		}
		s.render(w, r, "wifi", titleWiFi, body)
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// overlayStatic replaces each of ip, gw and sn that the form carries. A
// field that does not parse keeps its previous value.
func overlayStatic(cfg radio.IPConfig, r *http.Request) radio.IPConfig {
	for _, f := range []struct {
		field string
		out   *net.IP
	}{
		{"ip", &cfg.IP},
		{"gw", &cfg.Gateway},
		{"sn", &cfg.Subnet},
	} {
		v := r.FormValue(f.field)
		if v == "" {
			continue
		}
		parsed := net.ParseIP(v).To4()
		if parsed == nil {
			logging.Warn("Ignoring static address from form", zap.String("field", f.field), zap.String("value", v))
			continue
		}
		*f.out = parsed
	}
	return cfg
}

func (s *Server) stationStatic() radio.IPConfig {
	if s.session == nil {
		return s.opts.StationStatic
	}
	return s.session.credentials.StationStatic
}

func (s *Server) handleWiFiSave(w http.ResponseWriter, r *http.Request) {
	creds := Credentials{
		SSID:          r.FormValue("s"),
		Passphrase:    r.FormValue("p"),
		StationStatic: s.stationStatic(),
	}
	for _, p := range s.opts.Params {
		if p.IsHTML() {
			continue
		}
		p.SetValue(r.FormValue(p.ID))
		logging.Debug("Parameter read", zap.String("id", p.ID), zap.String("value", p.Value()))
	}
	creds.StationStatic = overlayStatic(creds.StationStatic, r)
	if err := stationconfig.ValidateSSID(creds.SSID); err != nil {
		logging.Debug("Submitted SSID looks wrong", zap.Error(err))
	}

	if s.session != nil {
		s.session.submit(creds)
	}
	logging.Info("Credentials submitted", zap.String("ssid", creds.SSID), zap.Bool("static", creds.StationStatic.IsSet()))

	ttr, _ := strconv.ParseInt(s.repo.ResetCountdown(), 10, 64)
	s.render(w, r, "saved", titleSaved, summaryBody{
		Name:         s.repo.StationName(),
		Latitude:     s.repo.Latitude(),
		Longitude:    s.repo.Longitude(),
		BucketVolume: s.repo.BucketVolume(),
		ResetMillis:  ttr,
		SSID:         creds.SSID,
	})
}

// handleSaveConfig stores whatever the form posts. Validation runs in the
// browser; here it is only logged.
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	fields := map[keystore.ConfigKey]string{
		keystore.Latitude:       r.FormValue("lat"),
		keystore.Longitude:      r.FormValue("lon"),
		keystore.BucketVolume:   r.FormValue("vol"),
		keystore.ResetCountdown: r.FormValue("ttr"),
		keystore.StationName:    r.FormValue("name"),
	}
	for key, value := range fields {
		if err := stationconfig.Validate(key.String(), value); err != nil {
			logging.Info("Accepting value the form should have rejected", zap.Error(err))
		}
	}

	s.repo.SaveCoordinates(fields[keystore.Latitude], fields[keystore.Longitude])
	s.repo.SaveBucketVolume(fields[keystore.BucketVolume])
	s.repo.SaveResetCountdown(fields[keystore.ResetCountdown])
	s.repo.SaveStationName(fields[keystore.StationName])

	ttr, _ := strconv.ParseInt(fields[keystore.ResetCountdown], 10, 64)
	s.render(w, r, "options", titleOptions, summaryBody{
		Name:         fields[keystore.StationName],
		Latitude:     fields[keystore.Latitude],
		Longitude:    fields[keystore.Longitude],
		BucketVolume: fields[keystore.BucketVolume],
		ResetMillis:  ttr,
	})
}

func (s *Server) info() Info {
	info := Info{
		StationID:       s.identity.StationID,
		FirmwareVersion: s.identity.FirmwareVersion,
		Name:            s.repo.StationName(),
		Latitude:        s.repo.Latitude(),
		Longitude:       s.repo.Longitude(),
		BucketVolume:    s.repo.BucketVolume(),
		ResetCountdown:  s.repo.ResetCountdown(),
		ChipID:          s.driver.ChipID(),
		FlashChipID:     s.driver.FlashChipID(),
		FlashChipSize:   s.driver.FlashChipSize(),
		StorageHealthy:  s.repo.StorageHealthy(),
		APIP:            ipString(s.driver.APIP()),
		APMAC:           s.driver.APMACAddress(),
		StationMAC:      s.driver.MACAddress(),
	}
	if s.session != nil {
		info.SessionID = s.session.ID.String()
	}
	return info
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "info", titleInfo, s.info())
}

func (s *Server) handleInfoJSON(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.info())
	if err != nil {
		logging.Error("Failed to encode station info", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Debug("Failed to write station info", zap.Error(err))
	}
	logging.LogHTTPResponse(r.RemoteAddr, http.StatusOK, len(data))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "reset", titleReset, nil)
	if s.session != nil {
		s.session.rebootAt = s.now().Add(s.opts.RebootDelay)
	}
	logging.Info("Reboot scheduled", zap.Duration("delay", s.opts.RebootDelay))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logging.Debug("Unparseable form on unknown path", zap.Error(err))
	}
	method := "POST"
	if r.Method == http.MethodGet {
		method = "GET"
	}

	names := make([]string, 0, len(r.Form))
	count := 0
	for name, values := range r.Form {
		names = append(names, name)
		count += len(values)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("File Not Found\n\n")
	fmt.Fprintf(&b, "URI: %s\n", r.URL.Path)
	fmt.Fprintf(&b, "Method: %s\n", method)
	fmt.Fprintf(&b, "Arguments: %d\n", count)
	for _, name := range names {
		for _, v := range r.Form[name] {
			fmt.Fprintf(&b, " %s: %s\n", name, v)
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "-1")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(b.String()))
	logging.LogHTTPResponse(r.RemoteAddr, http.StatusNotFound, b.Len())
}

package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/pluvion/provision/internal/flashfs"
	"github.com/pluvion/provision/internal/keystore"
	"github.com/pluvion/provision/internal/radio"
	"github.com/pluvion/provision/internal/stationconfig"
)

const testAPIP = "192.168.4.1"

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *radio.Simulator, *stationconfig.Repository) {
	t.Helper()
	sim := radio.NewSimulator()
	repo := stationconfig.NewRepository(keystore.New(flashfs.NewMem()))
	opts := DefaultOptions()
	opts.HTTPAddr = "127.0.0.1:0"
	opts.DNSAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&opts)
	}
	s := New(sim, repo, opts)
	if err := s.Start("PluviOn_Setup", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s, sim, repo
}

func serve(s *Server, req *http.Request, host string) *httptest.ResponseRecorder {
	req.Host = host
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	return serve(s, httptest.NewRequest(http.MethodGet, target, nil), testAPIP)
}

func postForm(s *Server, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return serve(s, req, testAPIP)
}

func TestIsIPHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"192.168.4.1", true},
		{"10.0.0.1", true},
		{"", true},
		{"example.com", false},
		{"connectivitycheck.gstatic.com", false},
		{"192.168.4.1a", false},
		{"::1", false},
	}
	for _, tt := range tests {
		if got := IsIPHost(tt.host); got != tt.want {
			t.Errorf("IsIPHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestCaptiveRedirect(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		host     string
		path     string
		redirect bool
	}{
		{"192.168.4.1", "/", false},
		{"192.168.4.1:80", "/", false},
		{"example.com", "/", true},
		{"example.com", "/generate_204", true},
		{"captive.apple.com:80", "/hotspot-detect.html", true},
	}
	for _, tt := range tests {
		t.Run(tt.host+tt.path, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil), tt.host)
			if !tt.redirect {
				if rec.Code != http.StatusOK {
					t.Errorf("status = %d, want 200", rec.Code)
				}
				return
			}
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != "http://"+testAPIP {
				t.Errorf("Location = %q, want http://%s", got, testAPIP)
			}
			if got := rec.Header().Get("Connection"); got != "close" {
				t.Errorf("Connection = %q, want close", got)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("redirect body = %q, want empty", rec.Body.String())
			}
		})
	}
}

func TestHomePage(t *testing.T) {
	s, _, repo := newTestServer(t, func(o *Options) {
		o.CustomHead = "<style>.x{}</style>"
	})
	repo.SaveStationName("estacao-1")
	repo.SaveBucketVolume("2,47")

	for _, path := range []string{"/", "/fwlink"} {
		rec := get(s, path)
		body := rec.Body.String()
		for _, want := range []string{
			"<title>Home | Pluvi.On</title>",
			"value='estacao-1'",
			"value='2.47'",
			"nR.setHours(7,0,0)",
			"<style>.x{}</style>",
			"PluviOn_10597059 | 5E:CF:7F:A1:B2:C3",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("GET %s body lacks %q", path, want)
			}
		}
	}
}

func TestHomePageRejectsBadResetTime(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) {
		o.ResetTime = "7);alert(1"
	})
	body := get(s, "/").Body.String()
	if !strings.Contains(body, "nR.setHours(7,0,0)") {
		t.Error("invalid reset time did not fall back to the default")
	}
	if strings.Contains(body, "alert(1") {
		t.Error("reset time was rendered unchecked")
	}
}

func TestWiFiPageScan(t *testing.T) {
	s, sim, _ := newTestServer(t, func(o *Options) {
		o.RemoveDuplicates = true
		o.MinQuality = 30
	})
	sim.Networks = []radio.Network{
		{SSID: "Cafe", RSSI: -90},
		{SSID: "Home", RSSI: -60, Encrypted: true},
		{SSID: "Home", RSSI: -45, Encrypted: true},
		{SSID: "Open", RSSI: -70},
	}

	body := get(s, "/wifi").Body.String()
	if n := strings.Count(body, ">Home</a>"); n != 1 {
		t.Errorf("Home listed %d times, want 1", n)
	}
	if strings.Contains(body, ">Cafe</a>") {
		t.Error("network below minimum quality was listed")
	}
	if !strings.Contains(body, "<span class='q l'>100%</span>") {
		t.Error("encrypted network lacks lock marker or quality")
	}
	if !strings.Contains(body, "<span class='q'>60%</span>") {
		t.Error("open network rendered with lock marker")
	}
	if strings.Index(body, ">Home</a>") > strings.Index(body, ">Open</a>") {
		t.Error("networks not ordered strongest first")
	}
	if !strings.Contains(body, "<title>Configurar WiFi | Pluvi.On</title>") {
		t.Error("wrong title")
	}
}

func TestWiFiPageNoNetworks(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	body := get(s, "/wifi").Body.String()
	if !strings.Contains(body, "Nenhuma rede encontrada") {
		t.Error("empty scan did not render the no-networks notice")
	}
}

func TestWiFiPageWithoutScan(t *testing.T) {
	s, sim, _ := newTestServer(t, func(o *Options) {
		o.Params = []*Param{
			NewParam("server", "Server", "pluvion.com.br", 40, ""),
			NewHTMLParam("<p>extra</p>"),
		}
		o.StationStatic = radio.IPConfig{IP: net.ParseIP("192.168.1.99")}
	})

	body := get(s, "/0wifi").Body.String()
	if sim.ScanCalls != 0 {
		t.Errorf("/0wifi scanned %d times, want 0", sim.ScanCalls)
	}
	if strings.Contains(body, "Nenhuma rede encontrada") {
		t.Error("/0wifi rendered scan results")
	}
	for _, want := range []string{
		"id='server'",
		"value='pluvion.com.br'",
		"length=40",
		"<p>extra</p>",
		"value='192.168.1.99'",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/0wifi body lacks %q", want)
		}
	}
}

func TestWiFiSave(t *testing.T) {
	param := NewParam("server", "Server", "", 5, "")
	s, _, repo := newTestServer(t, func(o *Options) {
		o.Params = []*Param{param}
	})
	repo.SaveStationName("estacao-1")

	if s.Session().Submitted() {
		t.Fatal("new session already submitted")
	}

	rec := get(s, "/wifisave?s=Home&p=secret123&server=pluvion.com.br&ip=192.168.1.99&gw=192.168.1.1&sn=255.255.255.0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	sess := s.Session()
	if !sess.Submitted() {
		t.Fatal("Submitted() = false after /wifisave")
	}
	creds := sess.Credentials()
	if creds.SSID != "Home" || creds.Passphrase != "secret123" {
		t.Errorf("Credentials() = %q/%q, want Home/secret123", creds.SSID, creds.Passphrase)
	}
	if got := creds.StationStatic.IP.String(); got != "192.168.1.99" {
		t.Errorf("StationStatic.IP = %s, want 192.168.1.99", got)
	}
	if param.Value() != "pluvi" {
		t.Errorf("param value = %q, want truncated pluvi", param.Value())
	}

	body := rec.Body.String()
	for _, want := range []string{
		"<title>Credenciais Salvas | Pluvi.On</title>",
		"<b>Station ID:</b> PluviOn_10597059",
		"<b>Station Name:</b> estacao-1",
		"<b>Rede Conectada:</b> Home",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/wifisave body lacks %q", want)
		}
	}

	sess.ClearSubmitted()
	if sess.Submitted() {
		t.Error("Submitted() = true after ClearSubmitted")
	}
}

func TestWiFiSaveStaticFieldsAreIndependent(t *testing.T) {
	base := radio.IPConfig{
		IP:      net.ParseIP("10.0.1.99").To4(),
		Gateway: net.ParseIP("10.0.1.1").To4(),
		Subnet:  net.ParseIP("255.255.255.0").To4(),
	}
	tests := []struct {
		name   string
		static radio.IPConfig
		query  string
		want   [3]string
	}{
		{"gateway only", base, "gw=10.0.1.254", [3]string{"10.0.1.99", "10.0.1.254", "255.255.255.0"}},
		{"subnet only", base, "sn=255.255.0.0", [3]string{"10.0.1.99", "10.0.1.1", "255.255.0.0"}},
		{"bad subnet kept", base, "ip=10.0.1.50&sn=bogus", [3]string{"10.0.1.50", "10.0.1.1", "255.255.255.0"}},
		{"gateway without address", radio.IPConfig{}, "gw=10.0.1.1", [3]string{"<nil>", "10.0.1.1", "<nil>"}},
		{"nothing posted", base, "", [3]string{"10.0.1.99", "10.0.1.1", "255.255.255.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, func(o *Options) { o.StationStatic = tt.static })

			if rec := get(s, "/wifisave?s=Home&"+tt.query); rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			st := s.Session().Credentials().StationStatic
			got := [3]string{st.IP.String(), st.Gateway.String(), st.Subnet.String()}
			if got != tt.want {
				t.Errorf("StationStatic = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	for _, path := range []string{"/savePluviOnConfig", "/savePluvionConfig"} {
		t.Run(path, func(t *testing.T) {
			s, _, repo := newTestServer(t, nil)
			rec := postForm(s, path, url.Values{
				"lat":  {"-23,55"},
				"lon":  {"-46,63"},
				"vol":  {"2,47"},
				"ttr":  {"3600000"},
				"name": {"estacao-1"},
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			got := repo.Snapshot()
			want := stationconfig.Snapshot{
				Latitude:       "-23.55",
				Longitude:      "-46.63",
				BucketVolume:   "2.47",
				ResetCountdown: "3600000",
				StationName:    "estacao-1",
			}
			if got != want {
				t.Errorf("Snapshot() = %+v, want %+v", got, want)
			}
			body := rec.Body.String()
			if !strings.Contains(body, "<title>Configurações Salvas | Pluvi.On</title>") {
				t.Error("wrong title")
			}
			if !strings.Contains(body, "<b>Latitude:</b> -23,55") {
				t.Error("options page does not echo the posted latitude")
			}
		})
	}
}

func TestSaveConfigAcceptsInvalidValues(t *testing.T) {
	s, _, repo := newTestServer(t, nil)
	postForm(s, "/savePluviOnConfig", url.Values{"vol": {"9"}, "name": {"bad name!"}})

	if got := repo.BucketVolume(); got != "9" {
		t.Errorf("BucketVolume() = %q, want 9", got)
	}
	if got := repo.StationName(); got != "bad name!" {
		t.Errorf("StationName() = %q, want %q", got, "bad name!")
	}
}

func TestInfoPage(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	body := get(s, "/i").Body.String()
	for _, want := range []string{
		"<dt>Chip ID</dt><dd>10597059</dd>",
		"<dt>Soft AP IP</dt><dd>192.168.4.1</dd>",
		"<dt>Station MAC</dt><dd>5C:CF:7F:A1:B2:C3</dd>",
		"<dt>Flash Storage</dt><dd>ok</dd>",
		s.Session().ID.String(),
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/i body lacks %q", want)
		}
	}
}

func TestInfoJSON(t *testing.T) {
	s, _, repo := newTestServer(t, nil)
	repo.SaveStationName("estacao-01")
	repo.SaveResetCountdown("3600000")

	rec := get(s, "/i.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("/i.json status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var info Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if info.StationID != "PluviOn_10597059" || info.Name != "estacao-01" || info.ResetCountdown != "3600000" {
		t.Errorf("info = %+v", info)
	}
	if info.SessionID != s.Session().ID.String() {
		t.Errorf("SessionID = %v, want %v", info.SessionID, s.Session().ID)
	}
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := get(s, "/nothing?b=2&a=1")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	want := "File Not Found\n\nURI: /nothing\nMethod: GET\nArguments: 2\n a: 1\n b: 2\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	headers := map[string]string{
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "-1",
	}
	for k, v := range headers {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestResetSchedulesReboot(t *testing.T) {
	s, sim, _ := newTestServer(t, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	body := get(s, "/r").Body.String()
	if !strings.Contains(body, "Sistema irá reiniciar em alguns segundos.") {
		t.Error("/r did not render the reboot notice")
	}
	if !s.Session().RebootPending() {
		t.Fatal("RebootPending() = false after /r")
	}

	s.Tick()
	if sim.Reboots != 0 {
		t.Fatalf("rebooted before the delay elapsed")
	}

	now = now.Add(DefaultRebootDelay)
	s.Tick()
	s.Tick()
	if sim.Reboots != 1 {
		t.Errorf("Reboots = %d, want 1", sim.Reboots)
	}
}

func TestStartStop(t *testing.T) {
	sim := radio.NewSimulator()
	repo := stationconfig.NewRepository(keystore.New(flashfs.NewMem()))
	opts := DefaultOptions()
	opts.HTTPAddr = "127.0.0.1:0"
	opts.DNSAddr = "127.0.0.1:0"
	s := New(sim, repo, opts)

	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
	if err := s.Start("PluviOn_Setup", "short"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v, want running", s.State())
	}
	ssid, pass, up := sim.AccessPoint()
	if ssid != "PluviOn_Setup" || pass != "" || !up {
		t.Errorf("AccessPoint() = %q, %q, %v; want open PluviOn_Setup up", ssid, pass, up)
	}
	if s.HTTPAddr() == nil || s.DNSAddr() == nil {
		t.Error("listeners not bound")
	}
	if err := s.Start("again", ""); err == nil {
		t.Error("second Start() error = nil")
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("State() = %v after Stop, want stopped", s.State())
	}
	if _, _, up := sim.AccessPoint(); up {
		t.Error("access point still up after Stop")
	}
	if s.Session() != nil {
		t.Error("Session() survived Stop")
	}
	s.Stop()

	if err := s.Start("PluviOn_Setup", "longenough"); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer s.Stop()
	if _, pass, _ := sim.AccessPoint(); pass != "longenough" {
		t.Errorf("AP password = %q, want longenough", pass)
	}
}

func TestTickServesQueuedHTTP(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	target := "http://" + s.HTTPAddr().String() + "/i"

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get(target)
		if err != nil {
			done <- result{err: err}
			return
		}
		resp.Body.Close()
		done <- result{code: resp.StatusCode}
	}()

	select {
	case r := <-done:
		t.Fatalf("request finished without Tick: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.After(5 * time.Second)
	for {
		s.Tick()
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("GET error = %v", r.err)
			}
			if r.code != http.StatusOK {
				t.Errorf("status = %d, want 200", r.code)
			}
			return
		case <-deadline:
			t.Fatal("request not served")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTickServesDNS(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	type result struct {
		msg *dns.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		m := new(dns.Msg)
		m.SetQuestion("connectivitycheck.gstatic.com.", dns.TypeA)
		c := &dns.Client{Net: "udp", Timeout: 5 * time.Second}
		in, _, err := c.Exchange(m, s.DNSAddr().String())
		done <- result{in, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		s.Tick()
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("Exchange() error = %v", r.err)
			}
			if r.msg.Rcode != dns.RcodeSuccess || len(r.msg.Answer) != 1 {
				t.Fatalf("answer = %v, want one record", r.msg)
			}
			a, ok := r.msg.Answer[0].(*dns.A)
			if !ok {
				t.Fatalf("answer type = %T, want *dns.A", r.msg.Answer[0])
			}
			if a.A.String() != testAPIP || a.Hdr.Ttl != DNSTTL {
				t.Errorf("answer = %s ttl %d, want %s ttl %d", a.A, a.Hdr.Ttl, testAPIP, DNSTTL)
			}
			return
		case <-deadline:
			t.Fatal("query not answered")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTickServesOneOfEachPerCall(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	target := "http://" + s.HTTPAddr().String() + "/i"

	httpDone := make(chan error, 2)
	dnsDone := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := http.Get(target)
			if err == nil {
				resp.Body.Close()
			}
			httpDone <- err
		}()
		go func(name string) {
			m := new(dns.Msg)
			m.SetQuestion(name, dns.TypeA)
			c := &dns.Client{Net: "udp", Timeout: 5 * time.Second}
			_, _, err := c.Exchange(m, s.DNSAddr().String())
			dnsDone <- err
		}(fmt.Sprintf("host%d.example.com.", i))
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(s.httpJobs) < 2 || len(s.dnsJobs) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("parked http = %d, dns = %d, want 2 each", len(s.httpJobs), len(s.dnsJobs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	expectOne := func(name string, done <-chan error) {
		t.Helper()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("%s error = %v", name, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s not served after Tick", name)
		}
		select {
		case <-done:
			t.Fatalf("second %s served by the same Tick", name)
		case <-time.After(100 * time.Millisecond):
		}
	}

	s.Tick()
	expectOne("HTTP request", httpDone)
	expectOne("DNS query", dnsDone)
	if len(s.httpJobs) != 1 || len(s.dnsJobs) != 1 {
		t.Errorf("parked after one Tick: http = %d, dns = %d, want 1 each", len(s.httpJobs), len(s.dnsJobs))
	}

	s.Tick()
	for name, done := range map[string]<-chan error{"HTTP request": httpDone, "DNS query": dnsDone} {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("%s error = %v", name, err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("second %s not served after the next Tick", name)
		}
	}
}

func TestWildcardResponse(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Question = append(req.Question, dns.Question{Name: "pluvion.com.br.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET})

	m := WildcardResponse(req, net.ParseIP("10.42.0.1"))
	if m.Id != req.Id || !m.Response {
		t.Error("reply does not match request")
	}
	if len(m.Answer) != 2 {
		t.Fatalf("len(Answer) = %d, want 2", len(m.Answer))
	}
	for i, rr := range m.Answer {
		a := rr.(*dns.A)
		if a.Hdr.Name != req.Question[i].Name || a.A.String() != "10.42.0.1" {
			t.Errorf("Answer[%d] = %s %s", i, a.Hdr.Name, a.A)
		}
	}
}

func TestStopReleasesParkedRequests(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	target := "http://" + s.HTTPAddr().String() + "/"

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("parked request not released by Stop")
	}
}

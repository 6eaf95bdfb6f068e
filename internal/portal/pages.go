package portal

import (
	"bytes"
	"html/template"
	"regexp"

	"github.com/pluvion/provision/internal/device"
)

// DefaultResetTime is the local "hours,minutes" of the daily counter reset
// offered by the configuration form.
const DefaultResetTime = "7,0"

var resetTimePattern = regexp.MustCompile(`^\d{1,2}(,\d{1,2})?$`)

const layoutTemplates = `
{{define "head"}}<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1, user-scalable=no"/><title>{{.Title}}</title><script>function c(l){document.getElementById('s').value=l.innerText||l.textContent;document.getElementById('p').focus();}</script><style>.c{text-align:center}.q{float:right;width:64px;text-align:right}.l{background:url('data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAABAAAAAQCAMAAAAoLQ9TAAAALVBMVEX///8EBwfBwsLw8PAzNjaCg4NTVVUjJiZDRUUUFxdiZGSho6OSk5Pg4eFydHTCjaf3AAAAZElEQVQ4je2NSw7AIAhEBamKn97/uMXEGBvozkWb9C2Zx4xzWykBhFAeYp9gkLyZE0zIMno9n4g19hmdY39scwqVkOXaxph0ZCXQcqxSpgQpONa59wkRDOL93eAXvimwlbPbwwVAegLS1HGfZAAAAABJRU5ErkJggg==') no-repeat left center;background-size:1em}div,input{padding:5px;font-size:1em}input{width:95%}body{text-align:center;font-family:verdana;background-color:#E9E9E9}button{border:0;border-radius:.3rem;background-color:#34383F;color:#fff;line-height:2.4rem;font-size:1.2rem;width:100%;margin:3px 0}p{text-align:left}</style>{{.CustomHead}}</head><body><div style='text-align:left;display:inline-block;min-width:260px;'>{{end}}
{{define "foot"}}</div><br/><br/><i style='text-align:right;font-size:.6em;display:block'>{{.Identity.StationID}} | {{.Identity.MAC}} | fw {{.Identity.FirmwareVersion}}<br/>Pluvi.On &copy; 2017. All Rights Reserved.</i></body></html>{{end}}
{{define "ttr"}}<script>var ms={{.}};var x=ms/1000;var ss=x%60;x/=60;var mm=x%60;x/=60;var hh=x%24;document.getElementById('ttr').innerHTML=parseInt(hh)+'h '+parseInt(mm)+'m '+parseInt(ss)+'s ';</script>{{end}}
`

const homeTemplate = `{{template "head" .}}<form name='frmConfig' method='post' action='/savePluviOnConfig' onsubmit='return validate();'><h3>Pluvi.On | Configuração</h3><p id='msg' style='color: red'></p><p>Station Name</p><input type='text' name='name' value='{{.Body.Name}}' maxlength='15'/><p>Latitude</p><input type='text' name='lat'/><p>Longitude</p><input type='text' name='lon'/><p>Calibragem do Bucket</p><input type='text' name='vol' value='{{.Body.BucketVolume}}'/><br><input type='hidden' name='ttr'/><button type='submit'>Salvar</button></form>
<form action='/wifi' method='get'><button>Configurar WiFi</button></form><form action='/i' method='get'><button>Info. do sistema</button></form>
<script>var msg=document.getElementById('msg');
function validate(){
msg.innerHTML='';var ok=true;var f=document.forms['frmConfig'];
var vol=parseFloat(f['vol'].value.replace(',','.'));var lat=parseFloat(f['lat'].value.replace(',','.'));var lon=parseFloat(f['lon'].value.replace(',','.'));var name=f['name'].value;
if(!lat||isNaN(lat)){msg.innerHTML+='- Latitude é obrigatória<br>';ok=false;}
if(!lon||isNaN(lon)){msg.innerHTML+='- Longitude é obrigatória<br>';ok=false;}
if(!vol||isNaN(vol)||vol<2.00||vol>5.00){msg.innerHTML+='- O valor da calibragem deve estar entre 2.00 e 5.00 (ex.: 2.47)<br>';ok=false;}
if(!name||!new RegExp('^[a-z0-9_-]+$','i').test(name)){msg.innerHTML+='- Nome inválido. Deve conter apenas (aA-zZ), (0-9), (-) ou (_)';ok=false;}
var n=new Date();var nR=new Date();nR.setHours({{.Body.ResetTime}},0);if(n>nR){nR.setDate(nR.getDate()+1);}
f['ttr'].value=nR.getTime()-n.getTime();return ok;}
</script>{{template "foot" .}}`

const wifiTemplate = `{{template "head" .}}<h3>Pluvi.On | WiFi</h3><h5>Redes localizadas:</h5>
{{- if .Body.Scanned}}{{if eq .Body.Found 0}}Nenhuma rede encontrada. Atualize para procurar novamente.{{else}}{{range .Body.Networks}}<div><a href='#p' onclick='c(this)'>{{.SSID}}</a>&nbsp;<span class='q{{if .Encrypted}} l{{end}}'>{{.Quality}}%</span></div>{{end}}<br/>{{end}}{{end -}}
<form method='get' action='wifisave'><input id='s' name='s' length=32 placeholder='SSID'><br/><input id='p' name='p' length=64 type='password' placeholder='password'><br/>
{{- range .Body.Params}}{{if .Raw}}{{.Raw}}{{else}}<br/><input id='{{.ID}}' name='{{.ID}}' length={{.Length}} placeholder='{{.Placeholder}}' value='{{.Value}}' {{.Attrs}}>{{end}}{{end}}{{if .Body.Params}}<br/>{{end -}}
{{if .Body.Static}}<br/><input id='ip' name='ip' length=15 placeholder='Static IP' value='{{.Body.Static.IP}}'><br/><input id='gw' name='gw' length=15 placeholder='Static Gateway' value='{{.Body.Static.Gateway}}'><br/><input id='sn' name='sn' length=15 placeholder='Subnet' value='{{.Body.Static.Subnet}}'><br/>{{end -}}
<br/><button type='submit'>Salvar</button></form><br/><div class="c"><a href="/wifi">Scan</a></div>{{template "foot" .}}`

const savedTemplate = `{{template "head" .}}<h1>Pluvi.On | Sucesso!</h1><h6>Tudo pronto, seu Pluvi.On foi configurado com sucesso!</h6><p><b>Station ID:</b> {{.Identity.StationID}}</p><p><b>Station Name:</b> {{.Body.Name}}</p><p><b>Latitude:</b> {{.Body.Latitude}}</p><p><b>Longitude:</b> {{.Body.Longitude}}</p><p><b>Volume do Bucket:</b> {{.Body.BucketVolume}}</p><p><b>Time to Reset: </b><span id='ttr'></span></p><p><b>Rede Conectada:</b> {{.Body.SSID}}</p><p><b>Mac Address:</b> {{.Identity.MAC}}</p><p><b>Firmware Version:</b> {{.Identity.FirmwareVersion}}</p><p>É isso! Qualquer coisa só chamar :)</p><p>E-mail: <a href='mailto:community@pluvion.com.br'>community@pluvion.com.br</a></p><p>Site: <a href='http://www.pluvion.com.br'>pluvion.com.br</a></p>{{template "ttr" .Body.ResetMillis}}{{template "foot" .}}`

const optionsTemplate = `{{template "head" .}}<h3>Pluvi.On | Config. Salvas!</h3><p><b>Station Name:</b> {{.Body.Name}}</p><p><b>Latitude:</b> {{.Body.Latitude}}</p><p><b>Longitude:</b> {{.Body.Longitude}}</p><p><b>Volume do Bucket:</b> {{.Body.BucketVolume}}</p><p><b>Time to Reset: </b><span id='ttr'></span></p><form action='/wifi' method='get'><button>Configurar WiFi</button></form><form action='/0wifi' method='get'><button>Conf. WiFi (Manualmente)</button></form><form action='/i' method='get'><button>Info. do sistema</button></form><form action='/r' method='post'><button>Reiniciar WiFi</button></form>{{template "ttr" .Body.ResetMillis}}{{template "foot" .}}`

const infoTemplate = `{{template "head" .}}<h3>Pluvi.On | Info. do sistema</h3><dl>
<dt>Station Name</dt><dd>{{.Body.Name}}</dd>
<dt>Latitude</dt><dd>{{.Body.Latitude}}</dd>
<dt>Longitude</dt><dd>{{.Body.Longitude}}</dd>
<dt>Bucket Volume</dt><dd>{{.Body.BucketVolume}}</dd>
<dt>Chip ID</dt><dd>{{.Body.ChipID}}</dd>
<dt>Flash Chip ID</dt><dd>{{.Body.FlashChipID}}</dd>
<dt>Flash Size</dt><dd>{{.Body.FlashChipSize}} bytes</dd>
<dt>Flash Storage</dt><dd>{{if .Body.StorageHealthy}}ok{{else}}mount failed{{end}}</dd>
<dt>Soft AP IP</dt><dd>{{.Body.APIP}}</dd>
<dt>Soft AP MAC</dt><dd>{{.Body.APMAC}}</dd>
<dt>Station MAC</dt><dd>{{.Body.StationMAC}}</dd>
<dt>Session</dt><dd>{{.Body.SessionID}}</dd>
</dl>{{template "foot" .}}`

const resetTemplate = `{{template "head" .}}Sistema irá reiniciar em alguns segundos.{{template "foot" .}}`

var pages = template.Must(template.New("layout").Parse(layoutTemplates))

func init() {
	for name, text := range map[string]string{
		"home":    homeTemplate,
		"wifi":    wifiTemplate,
		"saved":   savedTemplate,
		"options": optionsTemplate,
		"info":    infoTemplate,
		"reset":   resetTemplate,
	} {
		template.Must(pages.New(name).Parse(text))
	}
}

// page is the data every template receives.
type page struct {
	Title      string
	CustomHead template.HTML
	Identity   device.Identity
	Body       any
}

type homeBody struct {
	Name         string
	BucketVolume string
	ResetTime    template.JS
}

type networkItem struct {
	SSID      string
	Quality   int
	Encrypted bool
}

type paramItem struct {
	ID          string
	Placeholder string
	Length      int
	Value       string
	Attrs       template.HTMLAttr
	Raw         template.HTML
}

type staticItem struct {
	IP, Gateway, Subnet string
}

type wifiBody struct {
	Scanned  bool
	Found    int
	Networks []networkItem
	Params   []paramItem
	Static   *staticItem
}

type summaryBody struct {
	Name         string
	Latitude     string
	Longitude    string
	BucketVolume string
	ResetMillis  int64
	SSID         string
}

// Info is what the station reports about itself on /i and, for tooling,
// as JSON on /i.json.
type Info struct {
	StationID       string `json:"station_id"`
	FirmwareVersion string `json:"firmware_version"`
	Name            string `json:"station_name"`
	Latitude        string `json:"latitude"`
	Longitude       string `json:"longitude"`
	BucketVolume    string `json:"bucket_volume"`
	ResetCountdown  string `json:"reset_countdown"`
	ChipID          uint32 `json:"chip_id"`
	FlashChipID     uint32 `json:"flash_chip_id"`
	FlashChipSize   uint32 `json:"flash_chip_size"`
	StorageHealthy  bool   `json:"storage_healthy"`
	APIP            string `json:"ap_ip"`
	APMAC           string `json:"ap_mac"`
	StationMAC      string `json:"station_mac"`
	SessionID       string `json:"session_id,omitempty"`
}

// renderPage executes a template into a buffer so that a template error
// never leaves a half-written response.
func renderPage(name string, p page) ([]byte, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resetTimeJS returns the reset time as a JS argument list, falling back
// to DefaultResetTime for anything but "H" or "H,M".
func resetTimeJS(v string) template.JS {
	if !resetTimePattern.MatchString(v) {
		v = DefaultResetTime
	}
	return template.JS(v)
}

func paramItems(params []*Param) []paramItem {
	items := make([]paramItem, 0, len(params))
	for _, p := range params {
		if p.IsHTML() {
			items = append(items, paramItem{Raw: template.HTML(p.CustomHTML)})
			continue
		}
		items = append(items, paramItem{
			ID:          p.ID,
			Placeholder: p.Placeholder,
			Length:      p.Length,
			Value:       p.Value(),
			Attrs:       template.HTMLAttr(p.CustomHTML),
		})
	}
	return items
}

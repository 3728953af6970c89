package reading

import (
	"encoding/json"
	"strconv"
	"time"
)

// Field order and decimal precision are fixed by the receiving side.
const measureFrame = `{"SN":%d,"Voltage":%.1f,"Current":%.2f,"Power":%.2f,"Energy":%.3f,"Frequency":%.1f,"PF":%.2f}`

// AppendJSON renders measurement payload without reflection,
// json.Marshal cannot keep per-field precision.
func (r Reading) AppendJSON(b []byte) []byte {
	b = append(b, `{"SN":`...)
	b = strconv.AppendUint(b, uint64(r.SensorID), 10)
	b = appendField(b, "Voltage", r.Voltage, 1)
	b = appendField(b, "Current", r.Current, 2)
	b = appendField(b, "Power", r.Power, 2)
	b = appendField(b, "Energy", r.Energy, 3)
	b = appendField(b, "Frequency", r.Frequency, 1)
	b = appendField(b, "PF", r.PowerFactor, 2)
	return append(b, '}')
}

func (r Reading) JSON() []byte { return r.AppendJSON(make([]byte, 0, 128)) }

func appendField(b []byte, key string, v float64, prec int) []byte {
	b = append(b, ',', '"')
	b = append(b, key...)
	b = append(b, '"', ':')
	return strconv.AppendFloat(b, v, 'f', prec, 64)
}

// Announce is published once on the log topic after broker connect.
type Announce struct {
	LocalIP string
	Gateway string
	Netmask string
	MAC     string
	Version string
	Started time.Time
}

const StartedLayout = "2006.01.02. 15:04:05"

func (a Announce) JSON() []byte {
	b := make([]byte, 0, 320)
	b = appendString(b, '{', "IP_L", a.LocalIP)
	b = appendString(b, ',', "GW", a.Gateway)
	b = appendString(b, ',', "NM", a.Netmask)
	b = appendString(b, ',', "MAC", a.MAC)
	b = appendString(b, ',', "SW_ver", a.Version)
	b = appendString(b, ',', "Started", a.Started.Format(StartedLayout))
	return append(b, '}')
}

// BootReport follows Announce on the log topic, explains why previous run ended.
type BootReport struct {
	Boot        uint32
	BootID      string
	LastFatal   string
	LastFatalAt time.Time
}

func (br BootReport) JSON() []byte {
	b := make([]byte, 0, 256)
	b = append(b, `{"Boot":`...)
	b = strconv.AppendUint(b, uint64(br.Boot), 10)
	b = appendString(b, ',', "BootID", br.BootID)
	b = appendString(b, ',', "LastFatal", br.LastFatal)
	at := ""
	if !br.LastFatalAt.IsZero() {
		at = br.LastFatalAt.Format(StartedLayout)
	}
	b = appendString(b, ',', "LastFatalAt", at)
	return append(b, '}')
}

func appendString(b []byte, sep byte, key, value string) []byte {
	b = append(b, sep, '"')
	b = append(b, key...)
	b = append(b, '"', ':')
	// string marshal never fails
	q, _ := json.Marshal(value)
	return append(b, q...)
}

package peer

import (
	"encoding/json"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Config is the JSON configuration object a peer sends via RPTC
// (spec.md §4.2): identity, rxFrequency, txFrequency, info.*, channel.*,
// rcon.*, software, and the externalPeer/masterPeerId/sysView/
// conventionalPeer flags.
//
//go:generate msgp
type Config struct {
	Identity    string `msg:"identity"`
	RXFrequency uint64 `msg:"rxFrequency"`
	TXFrequency uint64 `msg:"txFrequency"`

	Latitude  float32 `msg:"latitude"`
	Longitude float32 `msg:"longitude"`
	Height    int     `msg:"height"`
	Location  string  `msg:"location"`

	TXPower        int `msg:"txPower"`
	TXOffsetMhz    int `msg:"txOffsetMhz"`
	ChBandwidthKhz int `msg:"chBandwidthKhz"`
	ChannelID      int `msg:"channelId"`
	ChannelNo      int `msg:"channelNo"`

	RconPassword string `msg:"rconPassword"`
	RconPort     int    `msg:"rconPort"`

	Software string `msg:"software"`

	SysView          bool   `msg:"sysView"`
	ExternalPeer     bool   `msg:"externalPeer"`
	ConventionalPeer bool   `msg:"conventionalPeer"`
	MasterPeerID     uint32 `msg:"masterPeerId"`
}

// configFields lists the msgp field names in encode/decode order. Keeping
// this as a single ordered slice (rather than relying on map iteration
// order) is what msgp's own codegen does to keep MarshalMsg deterministic.
var configFields = []string{
	"identity", "rxFrequency", "txFrequency",
	"latitude", "longitude", "height", "location",
	"txPower", "txOffsetMhz", "chBandwidthKhz", "channelId", "channelNo",
	"rconPassword", "rconPort",
	"software",
	"sysView", "externalPeer", "conventionalPeer", "masterPeerId",
}

// MarshalMsg appends the msgpack encoding of c to b, in the manner of a
// hand-maintained stand-in for `msgp` codegen (spec's Config struct plays
// the role DMRHub's go:generate-msgp HomeBrewProtocolPeer plays for the
// RPTC fields specifically).
func (c *Config) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, uint32(len(configFields)))
	for _, field := range configFields {
		o = msgp.AppendString(o, field)
		switch field {
		case "identity":
			o = msgp.AppendString(o, c.Identity)
		case "rxFrequency":
			o = msgp.AppendUint64(o, c.RXFrequency)
		case "txFrequency":
			o = msgp.AppendUint64(o, c.TXFrequency)
		case "latitude":
			o = msgp.AppendFloat32(o, c.Latitude)
		case "longitude":
			o = msgp.AppendFloat32(o, c.Longitude)
		case "height":
			o = msgp.AppendInt(o, c.Height)
		case "location":
			o = msgp.AppendString(o, c.Location)
		case "txPower":
			o = msgp.AppendInt(o, c.TXPower)
		case "txOffsetMhz":
			o = msgp.AppendInt(o, c.TXOffsetMhz)
		case "chBandwidthKhz":
			o = msgp.AppendInt(o, c.ChBandwidthKhz)
		case "channelId":
			o = msgp.AppendInt(o, c.ChannelID)
		case "channelNo":
			o = msgp.AppendInt(o, c.ChannelNo)
		case "rconPassword":
			o = msgp.AppendString(o, c.RconPassword)
		case "rconPort":
			o = msgp.AppendInt(o, c.RconPort)
		case "software":
			o = msgp.AppendString(o, c.Software)
		case "sysView":
			o = msgp.AppendBool(o, c.SysView)
		case "externalPeer":
			o = msgp.AppendBool(o, c.ExternalPeer)
		case "conventionalPeer":
			o = msgp.AppendBool(o, c.ConventionalPeer)
		case "masterPeerId":
			o = msgp.AppendUint32(o, c.MasterPeerID)
		}
	}
	return o, nil
}

// UnmarshalMsg decodes b into c, returning the unconsumed tail.
func (c *Config) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, o, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("reading config map header: %w", err)
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, o, err = msgp.ReadStringBytes(o)
		if err != nil {
			return nil, fmt.Errorf("reading config field name: %w", err)
		}
		switch field {
		case "identity":
			c.Identity, o, err = msgp.ReadStringBytes(o)
		case "rxFrequency":
			c.RXFrequency, o, err = msgp.ReadUint64Bytes(o)
		case "txFrequency":
			c.TXFrequency, o, err = msgp.ReadUint64Bytes(o)
		case "latitude":
			c.Latitude, o, err = msgp.ReadFloat32Bytes(o)
		case "longitude":
			c.Longitude, o, err = msgp.ReadFloat32Bytes(o)
		case "height":
			c.Height, o, err = msgp.ReadIntBytes(o)
		case "location":
			c.Location, o, err = msgp.ReadStringBytes(o)
		case "txPower":
			c.TXPower, o, err = msgp.ReadIntBytes(o)
		case "txOffsetMhz":
			c.TXOffsetMhz, o, err = msgp.ReadIntBytes(o)
		case "chBandwidthKhz":
			c.ChBandwidthKhz, o, err = msgp.ReadIntBytes(o)
		case "channelId":
			c.ChannelID, o, err = msgp.ReadIntBytes(o)
		case "channelNo":
			c.ChannelNo, o, err = msgp.ReadIntBytes(o)
		case "rconPassword":
			c.RconPassword, o, err = msgp.ReadStringBytes(o)
		case "rconPort":
			c.RconPort, o, err = msgp.ReadIntBytes(o)
		case "software":
			c.Software, o, err = msgp.ReadStringBytes(o)
		case "sysView":
			c.SysView, o, err = msgp.ReadBoolBytes(o)
		case "externalPeer":
			c.ExternalPeer, o, err = msgp.ReadBoolBytes(o)
		case "conventionalPeer":
			c.ConventionalPeer, o, err = msgp.ReadBoolBytes(o)
		case "masterPeerId":
			c.MasterPeerID, o, err = msgp.ReadUint32Bytes(o)
		default:
			o, err = msgp.Skip(o)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config field %q: %w", field, err)
		}
	}
	return o, nil
}

// wireConfig is the nested-JSON shape RPTC actually carries on the wire
// (spec.md §4.2 "identity, rxFrequency, txFrequency, info.{latitude,
// longitude,height,location}, channel.{txPower,txOffsetMhz,
// chBandwidthKhz,channelId,channelNo}, rcon.{password,port}, software").
// Config itself stays flat for msgp storage; this type exists only to
// round-trip the peer-facing nested JSON object through encoding/json,
// which has no notion of a dotted-path struct tag.
type wireConfig struct {
	Identity    string `json:"identity"`
	RXFrequency uint64 `json:"rxFrequency"`
	TXFrequency uint64 `json:"txFrequency"`
	Info        struct {
		Latitude  float32 `json:"latitude"`
		Longitude float32 `json:"longitude"`
		Height    int     `json:"height"`
		Location  string  `json:"location"`
	} `json:"info"`
	Channel struct {
		TXPower        int `json:"txPower"`
		TXOffsetMhz    int `json:"txOffsetMhz"`
		ChBandwidthKhz int `json:"chBandwidthKhz"`
		ChannelID      int `json:"channelId"`
		ChannelNo      int `json:"channelNo"`
	} `json:"channel"`
	Rcon struct {
		Password string `json:"password"`
		Port     int    `json:"port"`
	} `json:"rcon"`
	Software         string `json:"software"`
	SysView          bool   `json:"sysView"`
	ExternalPeer     bool   `json:"externalPeer"`
	ConventionalPeer bool   `json:"conventionalPeer"`
	MasterPeerID     uint32 `json:"masterPeerId"`
}

// DecodeConfigJSON parses an RPTC body into a Config. A malformed body
// maps to NakInvalidConfigData in the caller (spec.md §4.2 "Parsing
// failure NAKs INVALID_CONFIG_DATA").
func DecodeConfigJSON(body []byte) (Config, error) {
	var w wireConfig
	if err := json.Unmarshal(body, &w); err != nil {
		return Config{}, fmt.Errorf("decoding RPTC json: %w", err)
	}
	return Config{
		Identity:         w.Identity,
		RXFrequency:      w.RXFrequency,
		TXFrequency:      w.TXFrequency,
		Latitude:         w.Info.Latitude,
		Longitude:        w.Info.Longitude,
		Height:           w.Info.Height,
		Location:         w.Info.Location,
		TXPower:          w.Channel.TXPower,
		TXOffsetMhz:      w.Channel.TXOffsetMhz,
		ChBandwidthKhz:   w.Channel.ChBandwidthKhz,
		ChannelID:        w.Channel.ChannelID,
		ChannelNo:        w.Channel.ChannelNo,
		RconPassword:     w.Rcon.Password,
		RconPort:         w.Rcon.Port,
		Software:         w.Software,
		SysView:          w.SysView,
		ExternalPeer:     w.ExternalPeer,
		ConventionalPeer: w.ConventionalPeer,
		MasterPeerID:     w.MasterPeerID,
	}, nil
}

// EncodeConfigJSON is DecodeConfigJSON's inverse, used by tests and by
// any collaborator that needs to re-emit the wire form (e.g. a
// conformance harness replaying a captured RPTC body).
func EncodeConfigJSON(c Config) ([]byte, error) {
	var w wireConfig
	w.Identity = c.Identity
	w.RXFrequency = c.RXFrequency
	w.TXFrequency = c.TXFrequency
	w.Info.Latitude = c.Latitude
	w.Info.Longitude = c.Longitude
	w.Info.Height = c.Height
	w.Info.Location = c.Location
	w.Channel.TXPower = c.TXPower
	w.Channel.TXOffsetMhz = c.TXOffsetMhz
	w.Channel.ChBandwidthKhz = c.ChBandwidthKhz
	w.Channel.ChannelID = c.ChannelID
	w.Channel.ChannelNo = c.ChannelNo
	w.Rcon.Password = c.RconPassword
	w.Rcon.Port = c.RconPort
	w.Software = c.Software
	w.SysView = c.SysView
	w.ExternalPeer = c.ExternalPeer
	w.ConventionalPeer = c.ConventionalPeer
	w.MasterPeerID = c.MasterPeerID
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding RPTC json: %w", err)
	}
	return b, nil
}

package sipua

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/pion/sdp/v3"
)

// payloadPCMU is the only payload type offered and accepted.
const payloadPCMU = "0"

var errNoCommonCodec = errors.New("no common codec")

var rtpmaps = map[string]string{
	"0":   "PCMU/8000",
	"8":   "PCMA/8000",
	"101": "telephone-event/8000",
}

// buildSDP describes the local audio endpoint, offering or answering PCMU.
func buildSDP(addr string, port int, sessionID uint64) ([]byte, error) {
	formats := []string{payloadPCMU}
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "softline",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "softline",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: codecAttributes(formats),
			},
		},
	}
	return desc.Marshal()
}

func codecAttributes(formats []string) []sdp.Attribute {
	attrs := []sdp.Attribute{}
	for _, format := range formats {
		if rtpmap, ok := rtpmaps[format]; ok {
			attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: format + " " + rtpmap})
		}
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "sendrecv"},
	)
	return attrs
}

// remoteMedia is the peer's audio endpoint from an offer or answer.
type remoteMedia struct {
	Addr    *net.UDPAddr
	Formats []string
}

// parseSDP extracts the first audio stream of body and checks it carries PCMU.
func parseSDP(body []byte) (remoteMedia, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return remoteMedia{}, fmt.Errorf("parse SDP: %w", err)
	}

	var media *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			media = m
			break
		}
	}
	if media == nil {
		return remoteMedia{}, fmt.Errorf("no audio in SDP")
	}

	var host string
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		host = media.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return remoteMedia{}, fmt.Errorf("invalid connection address %q", host)
	}

	rm := remoteMedia{
		Addr:    &net.UDPAddr{IP: ip, Port: media.MediaName.Port.Value},
		Formats: media.MediaName.Formats,
	}
	if !slices.Contains(rm.Formats, payloadPCMU) {
		return rm, errNoCommonCodec
	}
	return rm, nil
}

func newSessionID() uint64 {
	return uint64(time.Now().UnixNano())
}

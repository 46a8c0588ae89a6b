package ptz

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

const soapTimeout = 3 * time.Second

// OnvifResolver returns a Resolver that speaks ONVIF SOAP directly to the
// camera's service port. The first media profile token is fetched once at
// resolution time and reused for every move.
func OnvifResolver() Resolver {
	return ResolverFunc(func(ctx context.Context, ip string, port int, username, password string) (Mover, error) {
		m := &onvifMover{
			endpoint: fmt.Sprintf("http://%s:%d/onvif/service", ip, port),
			username: username,
			password: password,
			http:     &http.Client{Timeout: soapTimeout},
		}
		token, err := m.firstProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("onvif profile discovery: %w", err)
		}
		m.profile = token
		return m, nil
	})
}

// onvifMover drives one camera's PTZ service over SOAP with WS-Security
// UsernameToken digest auth.
type onvifMover struct {
	endpoint string
	username string
	password string
	profile  string
	http     *http.Client
}

func (m *onvifMover) ContinuousMove(ctx context.Context, v Velocity) error {
	body := fmt.Sprintf(`<tptz:ContinuousMove xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:Velocity>
			<tt:PanTilt xmlns:tt="http://www.onvif.org/ver10/schema" x="%g" y="%g"/>
		</tptz:Velocity>
	</tptz:ContinuousMove>`, m.profile, v.Pan, v.Tilt)
	_, err := m.do(ctx, body)
	return err
}

func (m *onvifMover) Stop(ctx context.Context) error {
	body := fmt.Sprintf(`<tptz:Stop xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:PanTilt>true</tptz:PanTilt>
		<tptz:Zoom>true</tptz:Zoom>
	</tptz:Stop>`, m.profile)
	_, err := m.do(ctx, body)
	return err
}

func (m *onvifMover) firstProfile(ctx context.Context) (string, error) {
	resp, err := m.do(ctx, `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []struct {
					Token string `xml:"token,attr"`
				} `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return "", err
	}
	profiles := parsed.Body.GetProfilesResponse.Profiles
	if len(profiles) == 0 {
		return "", fmt.Errorf("camera reports no media profiles")
	}
	return profiles[0].Token, nil
}

// do wraps the body in a SOAP 1.2 envelope with a WS-Security header and
// posts it to the camera.
func (m *onvifMover) do(ctx context.Context, bodyInner string) ([]byte, error) {
	payload := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
	<s:Header>%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`, m.securityHeader(), bodyInner)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action=""`)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fault, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("onvif error %d: %s", resp.StatusCode, string(fault))
	}
	return io.ReadAll(resp.Body)
}

// securityHeader builds the UsernameToken with a password digest:
// Base64(SHA1(nonce + created + password)), nonce raw in the hash and
// base64 in the XML.
func (m *onvifMover) securityHeader() string {
	if m.username == "" {
		return ""
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ""
	}
	created := time.Now().UTC().Format(time.RFC3339)

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(m.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(`<Security xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
		<UsernameToken>
			<Username>%s</Username>
			<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
			<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
			<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
		</UsernameToken>
	</Security>`, m.username, digest, base64.StdEncoding.EncodeToString(nonce), created)
}

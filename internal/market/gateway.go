package market

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"strings"
)

// gatewayHMACKey is the shared secret for the finn-gw-key header.
const gatewayHMACKey = "3b535f36-79be-424b-a6fd-116c6e69f137"

// gatewayKey signs METHOD;PATH;SERVICE;BODY for the Tori app gateway.
func gatewayKey(method, path, service string, body []byte) string {
	var msg bytes.Buffer
	msg.WriteString(strings.ToUpper(method))
	msg.WriteString(";")
	if path != "" && path != "/" {
		msg.WriteString(path)
	}
	msg.WriteString(";")
	msg.WriteString(service)
	msg.WriteString(";")
	msg.Write(body)

	h := hmac.New(sha512.New, []byte(gatewayHMACKey))
	h.Write(msg.Bytes())
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

package fastcgi

import (
	"net"
	"sort"
	"strconv"

	"github.com/eudore/tinyhttpd"
	"github.com/eudore/tinyhttpd/protocol/http"
)

// Backend environment variable names.
const (
	EnvGatewayInterface = "GATEWAY_INTERFACE"
	EnvRequestMethod    = "REQUEST_METHOD"
	EnvScriptFilename   = "SCRIPT_FILENAME"
	EnvServerSoftware   = "SERVER_SOFTWARE"
	EnvRemoteAddr       = "REMOTE_ADDR"
	EnvRemotePort       = "REMOTE_PORT"
	EnvServerAddr       = "SERVER_ADDR"
	EnvServerPort       = "SERVER_PORT"
	EnvServerName       = "SERVER_NAME"
	EnvServerProtocol   = "SERVER_PROTOCOL"
	EnvRequestURI       = "REQUEST_URI"
	EnvQueryString      = "QUERY_STRING"
	EnvContentType      = "CONTENT_TYPE"
	EnvContentLength    = "CONTENT_LENGTH"
)

const (
	GatewayInterface = "FastCGI/1.0"
	ServerProtocol   = "HTTP/1.1"
)

// Environment is the name-value map sent as the PARAMS stream.
type Environment map[string]string

// NewEnvironment derives the backend environment of a dynamic request.
//
// script is the resolved file under the dynamic root. The remote address
// comes from req.RemoteAddr, the server address from conf.
// CONTENT_TYPE and CONTENT_LENGTH are empty for requests without a body.
func NewEnvironment(req *http.Request, conf *tinyhttpd.Config, script string) Environment {
	remoteAddr, remotePort := splitHostPort(req.RemoteAddr)
	env := Environment{
		EnvGatewayInterface: GatewayInterface,
		EnvRequestMethod:    req.RawMethod,
		EnvScriptFilename:   script,
		EnvServerSoftware:   tinyhttpd.ServerSoftware,
		EnvRemoteAddr:       remoteAddr,
		EnvRemotePort:       remotePort,
		EnvServerAddr:       conf.Address,
		EnvServerPort:       strconv.Itoa(conf.Port),
		EnvServerName:       conf.ServerName,
		EnvServerProtocol:   ServerProtocol,
		EnvRequestURI:       req.RequestURI,
		EnvQueryString:      req.Query,
		EnvContentType:      req.ContentType,
		EnvContentLength:    "",
	}
	if req.ContentLength > 0 {
		env[EnvContentLength] = strconv.FormatInt(req.ContentLength, 10)
	}
	return env
}

// Keys returns the variable names in order.
func (env Environment) Keys() []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

package acl

import (
	"encoding/xml"
	"strings"
)

// splitPath splits a URL path into non-empty segments, dropping a
// trailing empty component (spec §4.1: "Lookup-by-path treats a
// trailing empty component as absent").
func splitPath(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func queryFirst(q map[string][]string, key string) string {
	for k, v := range q {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// unknownRequest is returned by a parser when the request does not
// match its expected shape: the service root with the sentinel
// permission name (spec §4.5).
func unknownRequest() ParsedRequest {
	return ParsedRequest{PathFromRoot: nil, Permission: UnknownPermission}
}

// parseGenericAPI implements the generic HTTP (api) service-type
// parser: the target path is the URL segments after the service
// mount point, and the permission name is "read" for HEAD/GET, "write"
// otherwise.
func parseGenericAPI(req IncomingRequest) ParsedRequest {
	perm := "write"
	switch strings.ToUpper(req.Method) {
	case "GET", "HEAD":
		perm = "read"
	}
	return ParsedRequest{PathFromRoot: splitPath(req.Path), Permission: perm}
}

// wpsExecuteBody is the minimal XML shape read from a WPS Execute
// request body when the parameters aren't carried on the query string.
type wpsExecuteBody struct {
	XMLName    xml.Name `xml:"Execute"`
	Identifier struct {
		Value string `xml:",chardata"`
	} `xml:"Identifier"`
}

func normalizeWPSRequest(raw string) string {
	switch strings.ToLower(raw) {
	case "getcapabilities":
		return "get_capabilities"
	case "describeprocess":
		return "describe_process"
	case "execute":
		return "execute"
	default:
		return UnknownPermission
	}
}

// parseWPS implements the WPS service-type parser. GetCapabilities
// always targets the service root regardless of an identifier
// parameter; other requests target the process child resource named
// by identifier.
func parseWPS(req IncomingRequest) ParsedRequest {
	requestParam := queryFirst(req.Query, "request")
	identifier := queryFirst(req.Query, "identifier")

	if requestParam == "" && len(req.Body) > 0 {
		var body wpsExecuteBody
		if err := xml.Unmarshal(req.Body, &body); err == nil {
			requestParam = "Execute"
			if identifier == "" {
				identifier = strings.TrimSpace(body.Identifier.Value)
			}
		}
	}

	if requestParam == "" {
		return unknownRequest()
	}

	perm := normalizeWPSRequest(requestParam)
	if perm == UnknownPermission {
		return unknownRequest()
	}

	if perm == "get_capabilities" {
		return ParsedRequest{PathFromRoot: nil, Permission: perm}
	}

	if identifier == "" {
		return unknownRequest()
	}
	return ParsedRequest{PathFromRoot: []string{identifier}, Permission: perm}
}

func normalizeOWSRequest(raw string) string {
	switch strings.ToLower(raw) {
	case "getcapabilities":
		return "get_capabilities"
	case "getmap":
		return "get_map"
	case "getfeatureinfo":
		return "get_feature_info"
	case "getlegendgraphic":
		return "get_legend_graphic"
	case "getmetadata":
		return "get_metadata"
	case "describefeaturetype":
		return "describe_feature_type"
	case "getfeature":
		return "get_feature"
	case "lockfeature":
		return "lock_feature"
	case "transaction":
		return "transaction"
	default:
		return UnknownPermission
	}
}

// workspaceFromPathMarker finds the URL path segment immediately
// preceding marker (e.g. "wms"/"wfs"); an empty result means the
// service root (the teacher's "geoserver" prefix case).
func workspaceFromPathMarker(path, marker string) (string, bool) {
	segs := splitPath(path)
	for i, s := range segs {
		if strings.EqualFold(s, marker) {
			if i == 0 || strings.EqualFold(segs[i-1], "geoserver") {
				return "", true
			}
			return segs[i-1], true
		}
	}
	return "", false
}

func workspaceFromQualifiedName(qualified string) string {
	if idx := strings.Index(qualified, ":"); idx >= 0 {
		return qualified[:idx]
	}
	return qualified
}

// parseWMS implements the WMS service-type parser.
func parseWMS(req IncomingRequest) ParsedRequest {
	return parseOWSWorkspaceService(req, "wms", "layers")
}

// parseWFS implements the WFS service-type parser.
func parseWFS(req IncomingRequest) ParsedRequest {
	return parseOWSWorkspaceService(req, "wfs", "typenames")
}

func parseOWSWorkspaceService(req IncomingRequest, marker, layerParam string) ParsedRequest {
	requestParam := queryFirst(req.Query, "request")
	if requestParam == "" {
		return unknownRequest()
	}
	perm := normalizeOWSRequest(requestParam)
	if perm == UnknownPermission {
		return unknownRequest()
	}

	if perm == "get_capabilities" {
		workspace, found := workspaceFromPathMarker(req.Path, marker)
		if !found {
			return ParsedRequest{PathFromRoot: nil, Permission: perm}
		}
		if workspace == "" {
			return ParsedRequest{PathFromRoot: nil, Permission: perm}
		}
		return ParsedRequest{PathFromRoot: []string{workspace}, Permission: perm}
	}

	qualified := queryFirst(req.Query, layerParam)
	if qualified == "" {
		return unknownRequest()
	}
	workspace := workspaceFromQualifiedName(qualified)
	if workspace == "" {
		return unknownRequest()
	}
	return ParsedRequest{PathFromRoot: []string{workspace}, Permission: perm}
}

// threddsMarkers are the three recognized THREDDS access-path prefixes.
var threddsMarkers = []string{"fileServer", "dodsC", "catalog"}

// parseThredds implements the THREDDS service-type parser. The
// permission name is always "read"; the target path is the segments
// following whichever single marker appears in the URL path, with the
// ".html" suffix stripped from a dodsC request's final segment.
func parseThredds(req IncomingRequest) ParsedRequest {
	segs := splitPath(req.Path)

	markerIdx := -1
	marker := ""
	for i, s := range segs {
		for _, m := range threddsMarkers {
			if s == m {
				if markerIdx != -1 {
					// More than one marker present: malformed, deny.
					return unknownRequest()
				}
				markerIdx = i
				marker = m
			}
		}
	}
	if markerIdx == -1 {
		return unknownRequest()
	}

	tail := append([]string{}, segs[markerIdx+1:]...)
	if marker == "dodsC" && len(tail) > 0 {
		tail[len(tail)-1] = strings.TrimSuffix(tail[len(tail)-1], ".html")
	}

	return ParsedRequest{PathFromRoot: tail, Permission: "read"}
}

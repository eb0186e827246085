package cdp

import (
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// headersToMap 把 CDP 的原始 JSON 头部转换为普通映射
func headersToMap(raw network.Headers) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

// toResourceType 把 CDP 资源类型归一到领域枚举
func toResourceType(t network.ResourceType) domain.ResourceType {
	switch t {
	case "Document":
		return domain.ResourceDocument
	case "Stylesheet":
		return domain.ResourceStylesheet
	case "Script":
		return domain.ResourceScript
	case "Image":
		return domain.ResourceImage
	case "XHR", "Fetch":
		return domain.ResourceFetch
	default:
		return domain.ResourceOther
	}
}

// toHeaderEntries 把中立 Header 转换为 CDP Header 条目
func toHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

// toErrorReason 把领域中止原因映射为 CDP 网络错误原因
func toErrorReason(r domain.AbortReason) network.ErrorReason {
	switch r {
	case domain.AbortAborted:
		return network.ErrorReasonAborted
	case domain.AbortTimedOut:
		return network.ErrorReasonTimedOut
	case domain.AbortAccessDenied:
		return network.ErrorReasonAccessDenied
	case domain.AbortConnectionClosed:
		return network.ErrorReasonConnectionClosed
	case domain.AbortConnectionReset:
		return network.ErrorReasonConnectionReset
	case domain.AbortConnectionRefused:
		return network.ErrorReasonConnectionRefused
	case domain.AbortConnectionAborted:
		return network.ErrorReasonConnectionAborted
	case domain.AbortConnectionFailed:
		return network.ErrorReasonConnectionFailed
	case domain.AbortNameNotResolved:
		return network.ErrorReasonNameNotResolved
	case domain.AbortInternetDisconnected:
		return network.ErrorReasonInternetDisconnected
	case domain.AbortAddressUnreachable:
		return network.ErrorReasonAddressUnreachable
	case domain.AbortBlockedByClient:
		return network.ErrorReasonBlockedByClient
	case domain.AbortBlockedByResponse:
		return network.ErrorReasonBlockedByResponse
	default:
		return network.ErrorReasonFailed
	}
}

// fromErrorText 去除 CDP 错误文案首尾空白，大小写原样保留
func fromErrorText(s string) string {
	return strings.TrimSpace(s)
}

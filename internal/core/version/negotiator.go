// Package version 实现客户端与服务端之间的分层协议版本协商
//
// 每一层（加密、配对、API）双方各自声明支持的 "major.minor" 版本列表。
// 单层协商规则：
//  1. 取双方 major 版本号的交集
//  2. 交集非空时，选择远端提供的、major 在交集中的最高版本
//  3. 交集为空时该层失败
//
// NegotiateAll 汇总所有层的结果，任一层失败时返回 UpdateRequired，
// 供调用方构造 "update_required" 响应。
package version

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// 协议层名称
const (
	LayerEncryption = "encryption_protocol"
	LayerPairing    = "pairing_protocol"
	LayerAPI        = "api_protocol"
)

// Layers 返回所有协议层（固定顺序）
func Layers() []string {
	return []string{LayerEncryption, LayerPairing, LayerAPI}
}

var (
	// ErrIncompatible 该层没有共同的 major 版本
	ErrIncompatible = errors.New("version: incompatible protocol version")

	// ErrUnknownLayer 未知的协议层
	ErrUnknownLayer = errors.New("version: unknown protocol layer")
)

// DefaultUpdateMessage update_required 响应中的提示文案
const DefaultUpdateMessage = "Your app is out of date. Please update to continue."

// Version 解析后的版本号
type Version struct {
	Major int
	Minor int
	Raw   string
}

// Parse 解析 "major.minor" 或 "major" 形式的版本字符串
func Parse(s string) (Version, error) {
	majorStr, minorStr, hasMinor := strings.Cut(strings.TrimSpace(s), ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(minorStr)
		if err != nil || minor < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
	}
	return Version{Major: major, Minor: minor, Raw: s}, nil
}

// Less 比较两个版本
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// UpdateRequired 协商失败时的详情
type UpdateRequired struct {
	// FailedLayers 失败的层
	FailedLayers []string `json:"failed_layers"`

	// SupportedVersions 每个失败层本端支持的版本
	SupportedVersions map[string][]string `json:"supported_versions"`

	// Message 给用户的提示
	Message string `json:"message"`

	// UpdateURL 可选的更新地址
	UpdateURL string `json:"update_url,omitempty"`
}

// Error 实现 error 接口
func (u *UpdateRequired) Error() string {
	return fmt.Sprintf("version: update required for %s", strings.Join(u.FailedLayers, ", "))
}

// Unwrap 使 errors.Is(err, ErrIncompatible) 成立
func (u *UpdateRequired) Unwrap() error {
	return ErrIncompatible
}

// Negotiator 版本协商器
type Negotiator struct {
	supported map[string][]string
	updateURL string
	message   string
}

// Option 协商器选项
type Option func(*Negotiator)

// WithUpdateURL 设置失败时提示的更新地址
func WithUpdateURL(url string) Option {
	return func(n *Negotiator) { n.updateURL = url }
}

// WithMessage 设置失败时的提示文案
func WithMessage(msg string) Option {
	return func(n *Negotiator) { n.message = msg }
}

// NewNegotiator 创建协商器，supported 为每层本端支持的版本
func NewNegotiator(supported map[string][]string, opts ...Option) *Negotiator {
	n := &Negotiator{
		supported: make(map[string][]string, len(supported)),
		message:   DefaultUpdateMessage,
	}
	for layer, versions := range supported {
		n.supported[layer] = append([]string(nil), versions...)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Supported 返回某层本端支持的版本
func (n *Negotiator) Supported(layer string) []string {
	return append([]string(nil), n.supported[layer]...)
}

// SupportedAll 返回所有层本端支持的版本
func (n *Negotiator) SupportedAll() map[string][]string {
	out := make(map[string][]string, len(n.supported))
	for layer, versions := range n.supported {
		out[layer] = append([]string(nil), versions...)
	}
	return out
}

// majors 解析版本列表中的 major 集合，忽略格式错误的项
func majors(versions []string) map[int]struct{} {
	set := make(map[int]struct{}, len(versions))
	for _, s := range versions {
		if v, err := Parse(s); err == nil {
			set[v.Major] = struct{}{}
		}
	}
	return set
}

// Negotiate 协商单个协议层，返回选中的远端版本字符串
func (n *Negotiator) Negotiate(layer string, remote []string) (string, error) {
	local, ok := n.supported[layer]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLayer, layer)
	}

	localMajors := majors(local)
	var candidates []Version
	for _, s := range remote {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		if _, ok := localMajors[v.Major]; ok {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrIncompatible, layer)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[j].Less(candidates[i])
	})
	return candidates[0].Raw, nil
}

// NegotiateAll 协商所有协议层
//
// 本端的每一层都参与协商，远端未声明的层视为失败；远端声明了本端未知的层同样视为失败。
// 返回值 agreed 只包含成功的层；有失败层时 update 非 nil。
func (n *Negotiator) NegotiateAll(remote map[string][]string) (agreed map[string]string, update *UpdateRequired) {
	agreed = make(map[string]string, len(remote))

	var layers, extra []string
	for _, layer := range Layers() {
		if _, ok := n.supported[layer]; ok {
			layers = append(layers, layer)
		}
	}
	for layer := range remote {
		if _, ok := n.supported[layer]; !ok {
			extra = append(extra, layer)
		}
	}
	sort.Strings(extra)
	layers = append(layers, extra...)

	for _, layer := range layers {
		v, err := n.Negotiate(layer, remote[layer])
		if err == nil {
			agreed[layer] = v
			continue
		}
		if update == nil {
			update = &UpdateRequired{
				SupportedVersions: make(map[string][]string),
				Message:           n.message,
				UpdateURL:         n.updateURL,
			}
		}
		update.FailedLayers = append(update.FailedLayers, layer)
		update.SupportedVersions[layer] = n.Supported(layer)
	}
	return agreed, update
}

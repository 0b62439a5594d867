// Package i18n turns coded errors and action outcomes into user-facing
// messages. English and Simplified Chinese are supported; any other
// language falls back to English.
package i18n

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// Message keys, also the English text
const (
	keyInvalid     = "Invalid input: %s"
	keyNotFound    = "Not found: %s"
	keyForbidden   = "Permission denied: %s"
	keyInFlight    = "Another %s is already in progress"
	keyViewClosed  = "The deployment view is closed"
	keyCluster     = "Cluster unavailable: %s"
	keyFailed      = "Request failed: %s"
	keySucceeded   = "%s succeeded"
	keyUnsupported = "unknown action"
)

var actionNames = map[string][2]string{
	"restart":  {"Restart", "重启"},
	"scale":    {"Scale", "扩缩容"},
	"rollback": {"Rollback", "回滚"},
	"suspend":  {"Suspend", "暂停"},
	"resume":   {"Resume", "恢复"},
	"edit":     {"Edit", "编辑"},
}

var zhMessages = map[string]string{
	keyInvalid:     "输入无效：%s",
	keyNotFound:    "未找到：%s",
	keyForbidden:   "权限不足：%s",
	keyInFlight:    "另一个%s操作正在进行中",
	keyViewClosed:  "部署视图已关闭",
	keyCluster:     "集群不可用：%s",
	keyFailed:      "请求失败：%s",
	keySucceeded:   "%s成功",
	keyUnsupported: "未知操作",
}

// Translator renders messages for a requested language.
type Translator struct {
	catalog catalog.Catalog
	matcher language.Matcher
}

// New builds a translator with the built-in catalog. It panics if the
// catalog does not build.
func New() *Translator {
	b, err := buildCatalog()
	if err != nil {
		panic(fmt.Sprintf("i18n: invalid message catalog: %v", err))
	}
	return &Translator{
		catalog: b,
		matcher: language.NewMatcher([]language.Tag{language.English, language.SimplifiedChinese}),
	}
}

func buildCatalog() (*catalog.Builder, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	var errs []error
	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", tag, key, err))
		}
	}
	for key, zh := range zhMessages {
		set(language.English, key, key)
		set(language.SimplifiedChinese, key, zh)
	}
	for action, names := range actionNames {
		set(language.English, action, names[0])
		set(language.SimplifiedChinese, action, names[1])
	}
	return b, errors.Join(errs...)
}

// Printer returns a printer for a language preference such as "zh-CN" or an
// Accept-Language header value.
func (t *Translator) Printer(lang string) *message.Printer {
	tag, _ := language.MatchStrings(t.matcher, lang)
	return message.NewPrinter(tag, message.Catalog(t.catalog))
}

// Error renders err for display. nil renders as "".
func (t *Translator) Error(lang string, err error) string {
	if err == nil {
		return ""
	}
	p := t.Printer(lang)
	msg := dasherrors.Message(err)

	switch code := dasherrors.GetCode(err); {
	case dasherrors.IsValidation(err):
		return p.Sprintf(keyInvalid, msg)
	case dasherrors.IsNotFound(err):
		return p.Sprintf(keyNotFound, msg)
	case code == dasherrors.ErrForbidden:
		return p.Sprintf(keyForbidden, msg)
	case code == dasherrors.ErrActionInFlight:
		return p.Sprintf(keyInFlight, t.action(p, actionDetail(err)))
	case code == dasherrors.ErrViewClosed:
		return p.Sprintf(keyViewClosed)
	case code == dasherrors.ErrK8sUnknownCluster, code == dasherrors.ErrK8sClusterUnreachable:
		return p.Sprintf(keyCluster, msg)
	default:
		return p.Sprintf(keyFailed, msg)
	}
}

// Success renders the notification for a completed action.
func (t *Translator) Success(lang, action string) string {
	p := t.Printer(lang)
	return p.Sprintf(keySucceeded, t.action(p, action))
}

func (t *Translator) action(p *message.Printer, action string) string {
	if _, ok := actionNames[action]; !ok {
		return p.Sprintf(keyUnsupported)
	}
	return p.Sprintf(action)
}

func actionDetail(err error) string {
	var dashErr *dasherrors.DashError
	if errors.As(err, &dashErr) {
		if action, ok := dashErr.Details["action"].(string); ok {
			return action
		}
	}
	return ""
}

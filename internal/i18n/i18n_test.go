package i18n

import (
	"errors"
	"slices"
	"testing"

	"golang.org/x/text/language"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

func TestError(t *testing.T) {
	tr := New()

	tests := []struct {
		name string
		lang string
		err  error
		want string
	}{
		{"nil", "en", nil, ""},
		{"validation en", "en", dasherrors.ValidationError("releaseName is required"), "Invalid input: releaseName is required"},
		{"validation zh", "zh-CN", dasherrors.ValidationError("releaseName is required"), "输入无效：releaseName is required"},
		{"not found", "en", dasherrors.HelmReleaseNotFound("apps", "web"), "Not found: release apps/web not found"},
		{"forbidden", "en", dasherrors.Forbidden("no"), "Permission denied: no"},
		{"in flight en", "en", dasherrors.ActionInFlight("scale"), "Another Scale is already in progress"},
		{"in flight zh", "zh", dasherrors.ActionInFlight("rollback"), "另一个回滚操作正在进行中"},
		{"closed", "en", dasherrors.ViewClosed(), "The deployment view is closed"},
		{"cluster", "en", dasherrors.UnknownCluster("prod"), `Cluster unavailable: cluster "prod" is not configured`},
		{"foreign error", "en", errors.New("connection refused"), "Request failed: connection refused"},
		{"unsupported language falls back", "fr-FR", errors.New("boom"), "Request failed: boom"},
		{"accept-language header", "zh-CN,zh;q=0.9,en;q=0.8", errors.New("boom"), "请求失败：boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Error(tt.lang, tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSuccess(t *testing.T) {
	tr := New()
	if got := tr.Success("en", "restart"); got != "Restart succeeded" {
		t.Errorf("Expected %q, got %q", "Restart succeeded", got)
	}
	if got := tr.Success("zh-Hans", "scale"); got != "扩缩容成功" {
		t.Errorf("Expected %q, got %q", "扩缩容成功", got)
	}
	if got := tr.Success("en", "dance"); got != "unknown action succeeded" {
		t.Errorf("Expected unknown action, got %q", got)
	}
}

func TestBuildCatalog(t *testing.T) {
	b, err := buildCatalog()
	if err != nil {
		t.Fatalf("Catalog failed to build: %v", err)
	}
	for _, tag := range []language.Tag{language.English, language.SimplifiedChinese} {
		if !slices.Contains(b.Languages(), tag) {
			t.Errorf("Expected catalog to contain %s, got %v", tag, b.Languages())
		}
	}
}

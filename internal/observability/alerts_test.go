package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`storekeep_[a-z_]+`)

func anchor(heading string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")
}

func TestInventoryAlertRulesPointAtRunbook(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "inventory.yml"))
	require.NoError(t, err)
	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(raw, &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "inventory", rules.Groups[0].Name)

	doc, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-inventory.md"))
	require.NoError(t, err)
	anchors := map[string]bool{}
	for _, line := range strings.Split(string(doc), "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			anchors["docs/runbook-inventory.md#"+anchor(heading)] = true
		}
	}

	// Every metric an alert reads must be one this package registers.
	metrics := NewMetrics()
	metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	metrics.Jobs().AddDrift(1)
	_ = metrics.Jobs().Track("reconcile").End(assert.AnError)
	metrics.ObserveStockMutationFailure("error")
	families, err := metrics.registry.Gather()
	require.NoError(t, err)
	known := map[string]bool{}
	for _, f := range families {
		known[f.GetName()] = true
	}

	severities := map[string]string{
		"StockLedgerDrift":      "critical",
		"StockMutationFailures": "warning",
		"ReconcileJobFailing":   "warning",
		"HighErrorRate":         "critical",
	}
	require.Len(t, rules.Groups[0].Rules, len(severities))
	for _, rule := range rules.Groups[0].Rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %s", rule.Alert)
		assert.Equal(t, want, rule.Labels["severity"], rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		assert.True(t, anchors[rule.Annotations["runbook"]], "%s runbook %q", rule.Alert, rule.Annotations["runbook"])
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			assert.True(t, known[name], "%s reads unknown metric %s", rule.Alert, name)
		}
	}
}

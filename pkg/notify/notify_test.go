/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
)

func tokenSecret(name, key, token string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "tenants"},
		Data:       map[string][]byte{key: []byte(token)},
	}
}

func TestNotifyAuthorizationHeader(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg      odoov1alpha1.WebhookConfig
		secrets  []*corev1.Secret
		wantAuth string
	}{
		"inline token": {
			cfg:      odoov1alpha1.WebhookConfig{Token: "inline-tok"},
			wantAuth: "Bearer inline-tok",
		},
		"inline token wins over secret ref": {
			cfg: odoov1alpha1.WebhookConfig{
				Token: "inline-tok",
				TokenSecretRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: "hook-token"},
					Key:                  "token",
				},
			},
			secrets:  []*corev1.Secret{tokenSecret("hook-token", "token", "secret-tok")},
			wantAuth: "Bearer inline-tok",
		},
		"secret reference": {
			cfg: odoov1alpha1.WebhookConfig{
				TokenSecretRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: "hook-token"},
					Key:                  "token",
				},
			},
			secrets:  []*corev1.Secret{tokenSecret("hook-token", "token", "secret-tok")},
			wantAuth: "Bearer secret-tok",
		},
		"no token at all": {
			cfg:      odoov1alpha1.WebhookConfig{},
			wantAuth: "",
		},
		"missing secret degrades to unauthenticated": {
			cfg: odoov1alpha1.WebhookConfig{
				TokenSecretRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: "gone"},
					Key:                  "token",
				},
			},
			wantAuth: "",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var gotAuth string
			var gotBody map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			builder := fake.NewClientBuilder()
			for _, s := range tt.secrets {
				builder = builder.WithObjects(s)
			}

			n := New(builder.Build())
			cfg := tt.cfg
			cfg.URL = srv.URL

			n.Notify(context.Background(), "tenants", &cfg, Payload{
				Phase:   odoov1alpha1.PhaseCompleted,
				JobName: "shop-init-abc12",
			})

			if gotAuth != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", gotAuth, tt.wantAuth)
			}
			if gotBody["phase"] != "Completed" {
				t.Errorf("payload phase = %v, want Completed", gotBody["phase"])
			}
			if gotBody["jobName"] != "shop-init-abc12" {
				t.Errorf("payload jobName = %v, want shop-init-abc12", gotBody["jobName"])
			}
		})
	}
}

func TestNotifyOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	n := New(fake.NewClientBuilder().Build())
	n.Notify(context.Background(), "tenants", &odoov1alpha1.WebhookConfig{URL: srv.URL}, Payload{
		Phase: odoov1alpha1.PhaseFailed,
	})

	for _, key := range []string{"jobName", "message", "completionTime"} {
		if _, present := gotBody[key]; present {
			t.Errorf("payload key %q present, want omitted when unset", key)
		}
	}
}

func TestNotifyFailuresNeverPanicOrPropagate(t *testing.T) {
	t.Parallel()

	n := New(fake.NewClientBuilder().Build())

	// Unreachable endpoint: must log and return.
	n.Notify(context.Background(), "tenants",
		&odoov1alpha1.WebhookConfig{URL: "http://127.0.0.1:1"},
		Payload{Phase: odoov1alpha1.PhaseCompleted})

	// Nil config and empty URL are no-ops.
	n.Notify(context.Background(), "tenants", nil, Payload{})
	n.Notify(context.Background(), "tenants", &odoov1alpha1.WebhookConfig{}, Payload{})
}

func TestNotifyNon2xxIsSwallowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(fake.NewClientBuilder().Build())
	n.Notify(context.Background(), "tenants", &odoov1alpha1.WebhookConfig{URL: srv.URL}, Payload{
		Phase: odoov1alpha1.PhaseCompleted,
	})
}

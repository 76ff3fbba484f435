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

// Package notify delivers best-effort webhook notifications when a lifecycle
// job reaches a terminal phase.
//
// Delivery is strictly fire-and-forget: the job's terminal phase is already
// durably persisted before the notifier runs, so transport errors, non-2xx
// responses, and unresolvable tokens are logged and swallowed. A failed
// notification never fails or retries the reconcile that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	odoov1alpha1 "github.com/stackforge/odoo-operator/api/v1alpha1"
	"github.com/stackforge/odoo-operator/pkg/monitoring"
)

// DefaultTimeout bounds a single notification attempt.
const DefaultTimeout = 10 * time.Second

// Payload is the JSON body POSTed to the webhook URL.
type Payload struct {
	Phase          odoov1alpha1.Phase `json:"phase"`
	JobName        string             `json:"jobName,omitempty"`
	Message        string             `json:"message,omitempty"`
	CompletionTime *metav1.Time       `json:"completionTime,omitempty"`
}

// Notifier posts terminal-phase payloads to configured webhook endpoints.
type Notifier struct {
	// Reader resolves token secret references.
	Reader client.Reader

	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

// New returns a Notifier with a bounded default HTTP client.
func New(reader client.Reader) *Notifier {
	return &Notifier{
		Reader:     reader,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Notify POSTs the payload to the configured endpoint. The namespace is where
// a referenced token Secret is looked up. A nil config is a no-op.
//
// All failures are logged at the caller's log context and never returned.
func (n *Notifier) Notify(ctx context.Context, namespace string, cfg *odoov1alpha1.WebhookConfig, payload Payload) {
	if cfg == nil || cfg.URL == "" {
		return
	}
	logger := log.FromContext(ctx).WithValues("webhookURL", cfg.URL, "phase", payload.Phase)

	token := n.resolveToken(ctx, namespace, cfg)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error(err, "failed to encode webhook payload")
		monitoring.RecordWebhookNotification(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		logger.Error(err, "failed to build webhook request")
		monitoring.RecordWebhookNotification(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpClient := n.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Error(err, "webhook notification failed")
		monitoring.RecordWebhookNotification(err)
		return
	}
	defer resp.Body.Close()

	monitoring.RecordWebhookNotification(nil)
	logger.Info("webhook notification sent", "status", resp.StatusCode)
}

// resolveToken picks the bearer token: inline wins, otherwise the referenced
// secret key. An unresolvable reference degrades to an unauthenticated post.
func (n *Notifier) resolveToken(ctx context.Context, namespace string, cfg *odoov1alpha1.WebhookConfig) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	if cfg.TokenSecretRef == nil {
		return ""
	}

	var secret corev1.Secret
	key := types.NamespacedName{Name: cfg.TokenSecretRef.Name, Namespace: namespace}
	if err := n.Reader.Get(ctx, key, &secret); err != nil {
		log.FromContext(ctx).Error(err, "failed to resolve webhook token secret", "secret", key.Name)
		return ""
	}
	return string(secret.Data[cfg.TokenSecretRef.Key])
}

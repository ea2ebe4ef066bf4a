// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kraklabs/repomind/internal/apierr"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiEmbedBatch calls the native batchEmbedContents endpoint; Gemini
// does not offer the common /embeddings protocol.
func (c *Client) geminiEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	base := c.baseURL
	if base == "" {
		base = geminiBaseURL
	}
	model := "models/" + c.provider.Model

	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	type embedReq struct {
		Model   string  `json:"model"`
		Content content `json:"content"`
	}

	reqs := make([]embedReq, len(texts))
	for i, t := range texts {
		reqs[i] = embedReq{Model: model, Content: content{Parts: []part{{Text: t}}}}
	}
	body, err := json.Marshal(map[string]any{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("marshal gemini embeddings request: %w", err)
	}

	url := base + "/" + model + ":batchEmbedContents"
	resp, err := c.post(ctx, url, body, map[string]string{
		"x-goog-api-key": c.provider.APIKey,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "decode gemini embeddings response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, apierr.Newf(apierr.KindLLMFailure,
			"provider returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range parsed.Embeddings {
		vecs[i] = normalize(toFloat32(e.Values))
	}
	return vecs, nil
}

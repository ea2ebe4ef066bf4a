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

package ingestion

import (
	"strings"

	"github.com/kraklabs/repomind/pkg/githubapi"
	"github.com/kraklabs/repomind/pkg/storage"
)

// BuildFileTree converts the flat blob list into the recursive
// file_tree mapping: path segment to node, folders carrying children.
func BuildFileTree(entries []githubapi.BlobEntry) map[string]*storage.TreeNode {
	root := map[string]*storage.TreeNode{}
	for _, e := range entries {
		segments := strings.Split(e.Path, "/")
		current := root
		for i, seg := range segments {
			last := i == len(segments)-1
			if last {
				current[seg] = &storage.TreeNode{
					Type:     "file",
					Path:     e.Path,
					Size:     e.Size,
					Language: DetectLanguage(e.Path),
				}
				continue
			}
			node, ok := current[seg]
			if !ok {
				node = &storage.TreeNode{
					Type:     "folder",
					Children: map[string]*storage.TreeNode{},
				}
				current[seg] = node
			}
			current = node.Children
		}
	}
	return root
}

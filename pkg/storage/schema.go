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

package storage

// schemaDDL creates all relations. Statements are idempotent so the
// schema can be ensured on every startup.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id   text PRIMARY KEY,
    preferences  jsonb,
    repo_ids     jsonb NOT NULL DEFAULT '[]',
    created_at   timestamptz NOT NULL DEFAULT now(),
    updated_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS repositories (
    repo_id        text PRIMARY KEY,
    session_id     text NOT NULL,
    source_url     text NOT NULL,
    owner          text NOT NULL,
    name           text NOT NULL,
    default_branch text NOT NULL DEFAULT 'main',
    description    text NOT NULL DEFAULT '',
    file_tree      jsonb,
    status         text NOT NULL,
    task_id        text,
    file_count     integer NOT NULL DEFAULT 0,
    languages      jsonb,
    overview       text NOT NULL DEFAULT '',
    overview_vec   jsonb,
    embedding_dim  integer NOT NULL DEFAULT 0,
    error_message  text NOT NULL DEFAULT '',
    created_at     timestamptz NOT NULL DEFAULT now(),
    updated_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS repositories_session_idx ON repositories (session_id);

CREATE TABLE IF NOT EXISTS files (
    file_id       text PRIMARY KEY,
    repo_id       text NOT NULL,
    path          text NOT NULL,
    filename      text NOT NULL,
    language      text NOT NULL DEFAULT '',
    content       text NOT NULL DEFAULT '',
    size          bigint NOT NULL DEFAULT 0,
    parsed        boolean NOT NULL DEFAULT false,
    embedded      boolean NOT NULL DEFAULT false,
    functions     jsonb NOT NULL DEFAULT '[]',
    classes       jsonb NOT NULL DEFAULT '[]',
    imports       jsonb NOT NULL DEFAULT '[]',
    dependencies  jsonb NOT NULL DEFAULT '{"imports":[],"imported_by":[],"external_imports":[]}',
    chunks        jsonb NOT NULL DEFAULT '[]',
    summary       text NOT NULL DEFAULT '',
    provider_meta jsonb NOT NULL DEFAULT '{}',
    search        tsvector,
    created_at    timestamptz NOT NULL DEFAULT now(),
    updated_at    timestamptz NOT NULL DEFAULT now(),
    UNIQUE (repo_id, path)
);
CREATE INDEX IF NOT EXISTS files_repo_idx ON files (repo_id);
CREATE INDEX IF NOT EXISTS files_search_idx ON files USING gin (search);

CREATE TABLE IF NOT EXISTS tasks (
    task_id         text PRIMARY KEY,
    repo_id         text NOT NULL,
    kind            text NOT NULL,
    status          text NOT NULL,
    total_files     integer NOT NULL DEFAULT 0,
    processed_files integer NOT NULL DEFAULT 0,
    current_step    text NOT NULL DEFAULT 'queued',
    error           text NOT NULL DEFAULT '',
    result          jsonb,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
    conversation_id text PRIMARY KEY,
    session_id      text NOT NULL,
    repo_id         text NOT NULL,
    title           text NOT NULL,
    system_prompt   text NOT NULL,
    message_count   integer NOT NULL DEFAULT 0,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now(),
    UNIQUE (session_id, repo_id)
);

CREATE TABLE IF NOT EXISTS messages (
    message_id      text PRIMARY KEY,
    conversation_id text NOT NULL,
    role            text NOT NULL,
    content         text NOT NULL,
    tool_calls      jsonb,
    sequence_number integer NOT NULL,
    provider_meta   jsonb NOT NULL DEFAULT '{}',
    created_at      timestamptz NOT NULL DEFAULT now(),
    UNIQUE (conversation_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, sequence_number);
`

// Copyright 2021 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package embedded carries the trust-on-first-use TUF root bundled with
// the binary, so a fresh TUFCacheDir can bootstrap without an
// out-of-band root (spec.md §4.1/§4.3 step 1).
package embedded

import _ "embed"

//go:embed root.json
var RootJSON []byte

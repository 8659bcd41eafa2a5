// Copyright 2025 Kadir Pekel
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

package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrRoute          = "route"
	AttrVerdict        = "verdict"
	AttrErrorType      = "error.type"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanHTTPRequest = "http.request"
	SpanAdmit       = "quota.admit"
	SpanInspect     = "quota.inspect"

	DefaultServiceName  = "quotagate"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

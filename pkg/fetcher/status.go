/*
Copyright 2024 KubeAGI.

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

package fetcher

// Status is the lifecycle of one acquisition item. Fetching covers the
// wire transfer, Verifying the digest comparison, PostProcessing the
// archive extraction. Completed and Failed are terminal.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusResolving      Status = "Resolving"
	StatusFetching       Status = "Fetching"
	StatusVerifying      Status = "Verifying"
	StatusPostProcessing Status = "PostProcessing"
	StatusCompleted      Status = "Completed"
	StatusFailed         Status = "Failed"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the item is done, successfully or not.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

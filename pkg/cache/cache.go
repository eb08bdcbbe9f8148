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

package cache

// Cache stores resolved metadata and fetched link lists so repeated
// references inside one run do not hit the network again. Keys are the
// upstream identifiers themselves (URLs, version ids, list locations).
type Cache interface {
	Set(key string, val any) error
	Get(key string) (any, bool)
	Delete(key string) error
}

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

package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
)

const noneValue = "<none>"

// Print renders objs as an aligned table on stdout, one column per
// header. Columns are matched to struct fields by json tag.
func Print(headers []string, objs []any) {
	Fprint(os.Stdout, headers, objs)
}

func Fprint(w io.Writer, headers []string, objs []any) {
	tw := tabwriter.NewWriter(w, 1, 1, 4, ' ', 0)
	headersCopy := make([]string, len(headers))
	for i := 0; i < len(headers); i++ {
		headersCopy[i] = strings.ToUpper(headers[i])
	}

	fmt.Fprintln(tw, strings.Join(headersCopy, "\t"))
	row := make([]string, len(headers))
	for _, o := range objs {
		for i := 0; i < len(headers); i++ {
			row[i] = GetByHeader(o, headers[i])
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func GetByHeader(obj any, header string) string {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return noneValue
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return noneValue
	}
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if strings.TrimSuffix(field.Tag.Get("json"), ",omitempty") != header {
			continue
		}
		fieldValue := v.Field(i)
		switch fieldValue.Kind() {
		case reflect.Struct, reflect.Ptr, reflect.Slice, reflect.Map:
			jsonBytes, err := json.Marshal(fieldValue.Interface())
			if err != nil {
				return fmt.Sprintf("Error marshaling JSON: %v", err)
			}
			return string(jsonBytes)
		}
		return fmt.Sprintf("%v", fieldValue)
	}

	return noneValue
}

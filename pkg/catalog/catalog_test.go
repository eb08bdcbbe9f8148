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

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeagi/modelfetch/pkg/link"
)

func TestBuiltinCatalogsParse(t *testing.T) {
	sd15, err := Builtin(GenerationSD15)
	require.NoError(t, err)
	assert.Len(t, sd15.Models, 8)
	assert.Contains(t, sd15.Names(KindVAE), "WD.vae")
	assert.Contains(t, sd15.Names(KindControlNet), "Openpose")

	sdxl, err := Builtin(GenerationSDXL)
	require.NoError(t, err)
	assert.Len(t, sdxl.Models, 4)
	assert.Empty(t, sdxl.Names(KindLoRA))

	_, err = Builtin(Generation("sd3"))
	assert.Error(t, err)
}

func TestTokensFiltersInpainting(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	base, err := c.Tokens(KindModel, []string{"Anime (by XpucT)"}, false)
	require.NoError(t, err)
	require.Len(t, base, 1)
	assert.Equal(t,
		"model:https://huggingface.co/XpucT/Anime/resolve/main/Anime_v2.safetensors[Anime_V2.safetensors]",
		base[0])

	withInp, err := c.Tokens(KindModel, []string{"Anime (by XpucT)"}, true)
	require.NoError(t, err)
	assert.Len(t, withInp, 2)
}

func TestTokensAllKeyword(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	tokens, err := c.Tokens(KindVAE, []string{"all"}, false)
	require.NoError(t, err)
	assert.Len(t, tokens, 6)
}

func TestTokensIgnoresNoneAndEmpty(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	tokens, err := c.Tokens(KindVAE, []string{"none", "", "WD.vae"}, false)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "vae:https://huggingface.co/NoCrypt/resources/resolve/main/VAE/wd.vae.safetensors[WD.vae.safetensors]", tokens[0])
}

func TestTokensUnknownName(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	_, err = c.Tokens(KindModel, []string{"No Such Model"}, false)
	var unknown *UnknownNameError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "No Such Model", unknown.Name)
	assert.Contains(t, unknown.Valid, "Meina-Mix [Anime] [V12]")
}

func TestTokenWithoutNameOmitsOverride(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	tokens, err := c.Tokens(KindControlNet, []string{"Canny"}, false)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "control:https://huggingface.co/ckpt/ControlNet-v1-1/resolve/main/control_v11p_sd15_canny_fp16.safetensors", tokens[0])
	assert.NotContains(t, tokens[0], "[")
}

func TestTokensParseBackIntoRequests(t *testing.T) {
	c, err := Builtin(GenerationSD15)
	require.NoError(t, err)

	tokens, err := c.Tokens(KindModel, []string{All}, true)
	require.NoError(t, err)
	for _, tok := range tokens {
		req, err := link.Parse(tok)
		require.NoError(t, err, tok)
		assert.Equal(t, "model", req.Prefix)
		assert.NotEmpty(t, req.RawURL)
	}
}

func TestLoadExternalCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  "My Mix":
    - url: "https://example.com/mymix.safetensors"
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	tokens, err := c.Tokens(KindModel, []string{"My Mix"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"model:https://example.com/mymix.safetensors"}, tokens)
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("models: [not a map"), 0644))
	_, err := Load(broken)
	assert.Error(t, err)

	noURL := filepath.Join(dir, "nourl.yaml")
	require.NoError(t, os.WriteFile(noURL, []byte(`
models:
  "Broken Set":
    - name: "x.safetensors"
`), 0644))
	_, err = Load(noURL)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

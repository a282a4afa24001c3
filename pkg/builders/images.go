package builders

import (
	"fmt"
	"strings"

	"github.com/vyvo/buildmaster/pkg/capability"
)

// Image references a container image a builder's steps run in.
type Image struct {
	Name    string `json:"name" yaml:"name"`
	Title   string `json:"title,omitempty" yaml:"title"`
	Org     string `json:"org,omitempty" yaml:"org"`
	Tag     string `json:"tag,omitempty" yaml:"tag"`
	Arch    string `json:"arch" yaml:"arch"`
	OS      string `json:"os,omitempty" yaml:"os"`
	Variant string `json:"variant,omitempty" yaml:"variant"`
	Runtime string `json:"runtime,omitempty" yaml:"runtime"`
}

// Repository is "<org>/<arch>-<os>[-<variant>]-<name>", org omitted when empty.
func (i Image) Repository() string {
	parts := []string{i.Arch, i.OS}
	if i.Variant != "" {
		parts = append(parts, i.Variant)
	}
	parts = append(parts, i.Name)
	repo := strings.Join(nonEmpty(parts), "-")
	if i.Org != "" {
		repo = i.Org + "/" + repo
	}
	return repo
}

func (i Image) String() string {
	tag := i.Tag
	if tag == "" {
		tag = "latest"
	}
	return i.Repository() + ":" + tag
}

// DisplayTitle returns Title, falling back to a generated one.
func (i Image) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return strings.Join(nonEmpty([]string{i.Arch, i.OS, i.Variant, i.Name}), " ")
}

// Platform returns the tags a worker must carry to run the image.
func (i Image) Platform() []capability.Tag {
	var out []capability.Tag
	if i.Arch != "" {
		out = append(out, capability.Tag(i.Arch))
	}
	if i.Runtime != "" {
		out = append(out, capability.Tag(i.Runtime))
	}
	return out
}

// ForImages expands a template into one definition per image. Each image's
// platform tags are ANDed into the template requirement, the image title is
// appended to the name and the image reference is exposed as the
// "docker_image" property.
func ForImages(template *Definition, images []Image) ([]*Definition, error) {
	out := make([]*Definition, 0, len(images))
	for _, img := range images {
		if img.Name == "" || img.Arch == "" {
			return nil, fmt.Errorf("builder %q: image requires a name and an arch", template.name)
		}
		req := capability.AllOf{}
		if template.requires != nil {
			req = append(req, template.requires)
		}
		for _, tag := range img.Platform() {
			req = append(req, tag)
		}

		props := template.Properties()
		if props == nil {
			props = map[string]string{}
		}
		props["docker_image"] = img.String()

		tags := append(template.Tags(), img.Name, img.Arch)
		if img.OS != "" {
			tags = append(tags, img.OS)
		}

		def, err := NewDefinition(template.name+" "+img.DisplayTitle(), req, Options{
			Steps:      template.steps,
			Images:     []Image{img},
			Tags:       tags,
			Properties: props,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

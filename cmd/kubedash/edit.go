package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

func newEditCmd(opts *deployOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Replace the Deployment with an edited YAML document",
		Long: `Open the Deployment's YAML in $KUBE_EDITOR or $EDITOR and submit the result,
or submit the document in --filename directly.

A rejected document is written back to a temporary file so the edit is not
lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			original, _ := s.orch.EditBuffer()
			var edited string
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				edited = string(data)
			} else {
				edited, err = editInEditor(original)
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(edited) == strings.TrimSpace(original) {
				fmt.Fprintln(s.out, "Edit cancelled, no changes made.")
				return nil
			}

			s.orch.SetEditBuffer(edited)
			err = s.perform(ctx, fmt.Sprintf("Save changes to deployment %s?", s.orch.Target()), s.orch.SaveEditBuffer)
			if buffer, dirty := s.orch.EditBuffer(); dirty {
				if path, saveErr := saveRejected(buffer); saveErr == nil {
					fmt.Fprintf(s.errOut, "Your changes were kept in %s\n", path)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "filename", "f", "", "YAML document to submit instead of opening an editor")
	return cmd
}

// editInEditor lets the user edit text in their editor and returns the result.
func editInEditor(text string) (string, error) {
	editor := os.Getenv("KUBE_EDITOR")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	f, err := os.CreateTemp("", "kubedash-edit-*.yaml")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	parts := strings.Fields(editor)
	c := exec.Command(parts[0], append(parts[1:], f.Name())...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("editor %q failed: %w", editor, err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func saveRejected(text string) (string, error) {
	f, err := os.CreateTemp("", "kubedash-edit-rejected-*.yaml")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func newSetImageCmd(opts *deployOptions) *cobra.Command {
	var initContainer bool
	cmd := &cobra.Command{
		Use:   "set-image NAME CONTAINER=IMAGE",
		Short: "Change the image of one container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, image, ok := strings.Cut(args[1], "=")
			if !ok || container == "" || image == "" {
				return dasherrors.ValidationError(fmt.Sprintf("expected CONTAINER=IMAGE, got %q", args[1]))
			}

			ctx, s, err := opts.openSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			current, found := findContainer(s, container, initContainer)
			if !found {
				return dasherrors.ValidationError(fmt.Sprintf("container %q not found in %s", container, s.orch.Target()))
			}
			updated := *current.DeepCopy()
			updated.Image = image

			prompt := fmt.Sprintf("Change image of container %s from %s to %s?", container, current.Image, image)
			return s.perform(ctx, prompt, func(ctx context.Context) error {
				applied, err := s.orch.ApplyContainerEdit(ctx, container, updated, initContainer)
				if err == nil && !applied {
					fmt.Fprintf(s.out, "Container %s no longer exists, nothing changed\n", container)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&initContainer, "init", false, "CONTAINER is an init container")
	return cmd
}

func findContainer(s *session, name string, initContainer bool) (corev1.Container, bool) {
	v := s.orch.View()
	if v == nil || v.Raw == nil {
		return corev1.Container{}, false
	}
	containers := v.Raw.Spec.Template.Spec.Containers
	if initContainer {
		containers = v.Raw.Spec.Template.Spec.InitContainers
	}
	for _, c := range containers {
		if c.Name == name {
			return c, true
		}
	}
	return corev1.Container{}, false
}

//go:build opencl

package density

// OpenCL-backed spectrum multiply. The device, queue, and compiled kernel
// live for the lifetime of the gpuDevice; per-call work is buffer upload,
// one kernel launch, and readback.

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#include <CL/cl.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const clMultiplySource = `
__kernel void complex_mul(__global const double2 *a,
                          __global const double2 *b,
                          __global double2 *out,
                          const unsigned int n) {
    unsigned int i = get_global_id(0);
    if (i >= n) return;
    double2 x = a[i];
    double2 y = b[i];
    out[i] = (double2)(x.x * y.x - x.y * y.y, x.x * y.y + x.y * y.x);
}
`

func probeGPU() bool {
	dev, err := newGPUDevice()
	if err != nil {
		return false
	}
	dev.release()
	return true
}

type gpuDevice struct {
	context C.cl_context
	queue   C.cl_command_queue
	program C.cl_program
	kernel  C.cl_kernel
}

func newGPUDevice() (*gpuDevice, error) {
	var platform C.cl_platform_id
	var nPlatforms C.cl_uint
	if rc := C.clGetPlatformIDs(1, &platform, &nPlatforms); rc != C.CL_SUCCESS || nPlatforms == 0 {
		return nil, fmt.Errorf("opencl: no platform (code %d)", int(rc))
	}

	var device C.cl_device_id
	var nDevices C.cl_uint
	if rc := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, 1, &device, &nDevices); rc != C.CL_SUCCESS || nDevices == 0 {
		return nil, fmt.Errorf("opencl: no GPU device (code %d)", int(rc))
	}

	var rc C.cl_int
	ctx := C.clCreateContext(nil, 1, &device, nil, nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: create context failed (code %d)", int(rc))
	}

	queue := C.clCreateCommandQueue(ctx, device, 0, &rc)
	if rc != C.CL_SUCCESS {
		C.clReleaseContext(ctx)
		return nil, fmt.Errorf("opencl: create queue failed (code %d)", int(rc))
	}

	src := C.CString(clMultiplySource)
	defer C.free(unsafe.Pointer(src))
	program := C.clCreateProgramWithSource(ctx, 1, &src, nil, &rc)
	if rc != C.CL_SUCCESS {
		C.clReleaseCommandQueue(queue)
		C.clReleaseContext(ctx)
		return nil, fmt.Errorf("opencl: create program failed (code %d)", int(rc))
	}
	if rc = C.clBuildProgram(program, 1, &device, nil, nil, nil); rc != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		C.clReleaseCommandQueue(queue)
		C.clReleaseContext(ctx)
		return nil, fmt.Errorf("opencl: build program failed (code %d)", int(rc))
	}

	name := C.CString("complex_mul")
	defer C.free(unsafe.Pointer(name))
	kernel := C.clCreateKernel(program, name, &rc)
	if rc != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		C.clReleaseCommandQueue(queue)
		C.clReleaseContext(ctx)
		return nil, fmt.Errorf("opencl: create kernel failed (code %d)", int(rc))
	}

	return &gpuDevice{context: ctx, queue: queue, program: program, kernel: kernel}, nil
}

func (d *gpuDevice) multiplySpectra(a, b []complex128) ([]complex128, error) {
	n := len(a)
	if n == 0 {
		return nil, nil
	}

	// complex128 and double2 share layout: two packed float64s.
	byteLen := C.size_t(n * 16)
	var rc C.cl_int

	bufA := C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR, byteLen, unsafe.Pointer(&a[0]), &rc)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: upload a failed (code %d)", int(rc))
	}
	defer C.clReleaseMemObject(bufA)

	bufB := C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR, byteLen, unsafe.Pointer(&b[0]), &rc)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: upload b failed (code %d)", int(rc))
	}
	defer C.clReleaseMemObject(bufB)

	bufOut := C.clCreateBuffer(d.context, C.CL_MEM_WRITE_ONLY, byteLen, nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: alloc out failed (code %d)", int(rc))
	}
	defer C.clReleaseMemObject(bufOut)

	count := C.cl_uint(n)
	if rc = C.clSetKernelArg(d.kernel, 0, C.size_t(unsafe.Sizeof(bufA)), unsafe.Pointer(&bufA)); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: set arg 0 failed (code %d)", int(rc))
	}
	if rc = C.clSetKernelArg(d.kernel, 1, C.size_t(unsafe.Sizeof(bufB)), unsafe.Pointer(&bufB)); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: set arg 1 failed (code %d)", int(rc))
	}
	if rc = C.clSetKernelArg(d.kernel, 2, C.size_t(unsafe.Sizeof(bufOut)), unsafe.Pointer(&bufOut)); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: set arg 2 failed (code %d)", int(rc))
	}
	if rc = C.clSetKernelArg(d.kernel, 3, C.size_t(unsafe.Sizeof(count)), unsafe.Pointer(&count)); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: set arg 3 failed (code %d)", int(rc))
	}

	global := C.size_t(n)
	if rc = C.clEnqueueNDRangeKernel(d.queue, d.kernel, 1, nil, &global, nil, 0, nil, nil); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: launch failed (code %d)", int(rc))
	}

	out := make([]complex128, n)
	if rc = C.clEnqueueReadBuffer(d.queue, bufOut, C.CL_TRUE, 0, byteLen, unsafe.Pointer(&out[0]), 0, nil, nil); rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: readback failed (code %d)", int(rc))
	}

	return out, nil
}

func (d *gpuDevice) release() {
	if d.kernel != nil {
		C.clReleaseKernel(d.kernel)
	}
	if d.program != nil {
		C.clReleaseProgram(d.program)
	}
	if d.queue != nil {
		C.clReleaseCommandQueue(d.queue)
	}
	if d.context != nil {
		C.clReleaseContext(d.context)
	}
}
